package database

import (
	"errors"

	"github.com/gridwatt/smart-meter-server/models"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrBillNotFound   = errors.New("bill not found")
	ErrDataConflict   = errors.New("data conflict or integrity issue")
	ErrMissingReading = errors.New("client does not have any readings")
)

// Store is the database port the session core consumes. Implementations must
// make operations on a single client id linearizable with respect to each
// other; operations on different ids must not serialize. LastBill returns
// the most recently appended or updated bill, LastReading the most recently
// appended reading.
type Store interface {
	AddClient(clientID string, client models.Client) error
	RemoveClient(clientID string) error
	AddReading(clientID string, reading models.Reading) error
	AddBill(clientID string, bill models.Bill) error
	UpdateLastBill(clientID string, bill models.Bill) error
	LastBill(clientID string) (*models.Bill, error)
	LastReading(clientID string) (*models.Reading, error)
	// ClientExists returns the stored token hash, or "" with a nil error
	// when the client is unknown.
	ClientExists(clientID string) (string, error)
}
