// Package protocol implements the smart-meter wire protocol: 16-bit
// big-endian length-prefixed frames carrying JSON payloads, except during
// authentication where server responses are raw ASCII.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gridwatt/smart-meter-server/models"
)

// Auth phase responses, sent as raw ASCII payloads (not JSON).
const (
	AuthSuccessful   = "Authentication successful"
	AuthFailed       = "Authentication failed"
	AlreadyConnected = "Another smart meter is already connected"
)

// Message type tags for the post-auth phase.
const (
	TypeMeterReading           = "MeterReading"
	TypeBill                   = "Bill"
	TypePowerGridIssue         = "PowerGridIssue"
	TypePowerGridIssueResolved = "PowerGridIssueResolved"
)

// Auth is the first frame a meter sends.
type Auth struct {
	ID    uint64 `json:"id"`
	Token string `json:"token"`
}

// ClientMessage is the tagged union of post-auth client frames. Only
// MeterReading exists today; the tag keeps the wire open for more.
type ClientMessage struct {
	Type    string  `json:"type"`
	Reading float64 `json:"reading"`
}

func ParseClientMessage(payload []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Type != TypeMeterReading {
		return nil, fmt.Errorf("unknown client message type %q", msg.Type)
	}
	return &msg, nil
}

type billMessage struct {
	Type string `json:"type"`
	models.Bill
}

type issueMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type resolvedMessage struct {
	Type string `json:"type"`
}

// EncodeBill serializes a Bill server message.
func EncodeBill(bill models.Bill) ([]byte, error) {
	return json.Marshal(billMessage{Type: TypeBill, Bill: bill})
}

// EncodePowerGridIssue serializes an active grid-incident notification.
func EncodePowerGridIssue(errMsg string) ([]byte, error) {
	return json.Marshal(issueMessage{Type: TypePowerGridIssue, Error: errMsg})
}

// EncodePowerGridIssueResolved serializes the all-clear notification.
func EncodePowerGridIssueResolved() ([]byte, error) {
	return json.Marshal(resolvedMessage{Type: TypePowerGridIssueResolved})
}
