package services

import (
	"errors"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/models"
)

// ErrInvalidReading rejects a reading below the current meter value.
// Readings are cumulative, so a lower value can only be a meter fault or a
// replayed frame.
var ErrInvalidReading = errors.New("reading is smaller than previous reading")

// ConnectionContext is the per-session billing aggregator. It holds the most
// recent reading and the bill being accreted, persists readings only at hour
// boundaries (or on Flush), and rolls the bill over when a reading crosses
// into a new billing period.
//
// Owned exclusively by one session goroutine; no internal locking.
type ConnectionContext struct {
	clientID            string
	currentReading      models.Reading
	currentBill         models.Bill
	pricePerUnit        float64
	dailyStandingCharge float64
	flushed             bool
	db                  database.Store
}

// NewConnectionContext loads the client's last reading and bill. A client
// with no reading history fails with ErrMissingReading, one with no bill
// with ErrBillNotFound.
func NewConnectionContext(clientID string, pricePerUnit, dailyStandingCharge float64, db database.Store) (*ConnectionContext, error) {
	lastReading, err := db.LastReading(clientID)
	if err != nil {
		return nil, err
	}
	if lastReading == nil {
		return nil, database.ErrMissingReading
	}

	lastBill, err := db.LastBill(clientID)
	if err != nil {
		return nil, err
	}
	if lastBill == nil {
		return nil, database.ErrBillNotFound
	}

	return &ConnectionContext{
		clientID:            clientID,
		currentReading:      *lastReading,
		currentBill:         *lastBill,
		pricePerUnit:        pricePerUnit,
		dailyStandingCharge: dailyStandingCharge,
		flushed:             false,
		db:                  db,
	}, nil
}

// AddReading accepts the next cumulative reading. Crossing an hour boundary
// (calendar date or hour-of-day change) persists the reading and the updated
// or rolled-over bill; within the same hour the bill is recomputed in memory
// only and the context marked dirty for a later Flush.
func (ctx *ConnectionContext) AddReading(reading models.Reading) error {
	if reading.Reading < ctx.currentReading.Reading {
		return ErrInvalidReading
	}

	if !reading.SameHour(ctx.currentReading) {
		// Flush the reading to the database
		if err := ctx.db.AddReading(ctx.clientID, reading); err != nil {
			return err
		}
		if err := ctx.updateOrCreateBill(reading); err != nil {
			return err
		}
		ctx.flushed = true
	} else {
		ctx.flushed = false
		ctx.updateBill(reading)
	}

	ctx.currentReading = reading
	return nil
}

// updateBill recomputes the accreting bill from a reading inside the current
// billing period.
func (ctx *ConnectionContext) updateBill(reading models.Reading) {
	ctx.currentBill.UnitsEnd = reading.Reading
	ctx.currentBill.ActualUsage = (ctx.currentBill.UnitsEnd - ctx.currentBill.UnitsStart) * ctx.pricePerUnit

	// First day of the period counts as one full day
	daysElapsed := models.DateOf(reading.Time).Sub(ctx.currentBill.BillingPeriod.Start).Hours()/24 + 1
	ctx.currentBill.StandingCharge = daysElapsed * ctx.dailyStandingCharge

	ctx.currentBill.Total = ctx.currentBill.ActualUsage + ctx.currentBill.StandingCharge
}

func (ctx *ConnectionContext) updateOrCreateBill(reading models.Reading) error {
	// The period end date is exclusive: anything before its midnight still
	// belongs to the current bill.
	if reading.Time.Before(ctx.currentBill.BillingPeriod.End) {
		ctx.updateBill(reading)
		return ctx.db.UpdateLastBill(ctx.clientID, ctx.currentBill)
	}

	// Reading is within a new billing period
	newBill := ctx.createNewBill(reading)
	if err := ctx.db.AddBill(ctx.clientID, newBill); err != nil {
		return err
	}
	ctx.currentBill = newBill
	return nil
}

// createNewBill opens the next period's bill: one day of standing charge,
// and the opening meter value priced as usage (matching the opening-bill
// convention used at seeding time).
func (ctx *ConnectionContext) createNewBill(reading models.Reading) models.Bill {
	return models.Bill{
		ActualUsage:         reading.Reading * ctx.pricePerUnit,
		StandingCharge:      ctx.dailyStandingCharge,
		Total:               reading.Reading*ctx.pricePerUnit + ctx.dailyStandingCharge,
		UnitsStart:          reading.Reading,
		UnitsEnd:            reading.Reading,
		PricePerUnit:        ctx.pricePerUnit,
		DailyStandingCharge: ctx.dailyStandingCharge,
		BillingPeriod:       models.NewBillingPeriod(reading.Time),
	}
}

// Flush persists the current reading and bill if the last accepted reading
// never crossed an hour boundary. Called on session teardown; idempotent.
func (ctx *ConnectionContext) Flush() error {
	if ctx.flushed {
		return nil
	}

	if err := ctx.db.AddReading(ctx.clientID, ctx.currentReading); err != nil {
		return err
	}
	if err := ctx.updateOrCreateBill(ctx.currentReading); err != nil {
		return err
	}
	ctx.flushed = true
	return nil
}

func (ctx *ConnectionContext) CurrentReading() models.Reading {
	return ctx.currentReading
}

func (ctx *ConnectionContext) CurrentBill() models.Bill {
	return ctx.currentBill
}
