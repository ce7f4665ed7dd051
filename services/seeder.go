package services

import (
	"fmt"
	"math/rand"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/models"
)

// SeedClients preloads count synthetic meters into the store for demos and
// load tests. Client i gets id "i", a bcrypt token of "i", ten ascending
// random readings and an opening bill derived from the last one.
func SeedClients(db database.Store, count int, pricePerUnit, dailyStandingCharge float64) error {
	for i := 0; i < count; i++ {
		readings := make([]models.Reading, 0, 10)
		for j := 0; j < 10; j++ {
			readings = append(readings, models.NewReading(float64(j)+rand.Float64()))
		}

		// Cost 4 keeps seeding fast; these are demo credentials.
		hash, err := bcrypt.GenerateFromPassword([]byte(fmt.Sprintf("%d", i)), 4)
		if err != nil {
			return fmt.Errorf("hash token for client %d: %w", i, err)
		}

		bill := models.BillFromReading(readings[len(readings)-1], pricePerUnit, dailyStandingCharge)

		client := models.Client{
			TokenHash: string(hash),
			Readings:  readings,
			Bills:     []models.Bill{bill},
		}

		if err := db.AddClient(fmt.Sprintf("%d", i), client); err != nil {
			return fmt.Errorf("seed client %d: %w", i, err)
		}
	}

	log.WithField("count", count).Debug("created clients")
	return nil
}
