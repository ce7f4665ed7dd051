package models

import (
	"encoding/json"
	"time"
)

// Reading is a cumulative meter value together with its observation time.
// Values never decrease for a given client; the meter counts total kWh.
type Reading struct {
	Reading float64   `json:"reading"`
	Time    time.Time `json:"time"`
}

func NewReading(value float64) Reading {
	return Reading{Reading: value, Time: time.Now().UTC()}
}

// SameHour reports whether two readings fall inside the same hour bucket,
// i.e. same calendar date and same hour-of-day.
func (r Reading) SameHour(other Reading) bool {
	ry, rm, rd := r.Time.Date()
	oy, om, od := other.Time.Date()
	return ry == oy && rm == om && rd == od && r.Time.Hour() == other.Time.Hour()
}

// BillingPeriod is a half-open [Start, End) interval of calendar dates.
// End is Start plus one calendar month; both marshal as "YYYY-MM-DD".
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

const dateLayout = "2006-01-02"

// NewBillingPeriod opens a one-month period starting on the date of t.
func NewBillingPeriod(t time.Time) BillingPeriod {
	start := DateOf(t)
	return BillingPeriod{Start: start, End: AddCalendarMonth(start)}
}

// DateOf truncates a timestamp to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddCalendarMonth advances a date by one calendar month, keeping the
// day-of-month. When the target month is shorter, the result clamps to its
// last day (Jan 31 -> Feb 28/29). Go's AddDate normalizes instead of
// clamping, so this is done by hand.
func AddCalendarMonth(d time.Time) time.Time {
	y, m, day := d.Date()
	first := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

type billingPeriodJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (bp BillingPeriod) MarshalJSON() ([]byte, error) {
	return json.Marshal(billingPeriodJSON{
		Start: bp.Start.Format(dateLayout),
		End:   bp.End.Format(dateLayout),
	})
}

func (bp *BillingPeriod) UnmarshalJSON(data []byte) error {
	var raw billingPeriodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := time.ParseInLocation(dateLayout, raw.Start, time.UTC)
	if err != nil {
		return err
	}
	end, err := time.ParseInLocation(dateLayout, raw.End, time.UTC)
	if err != nil {
		return err
	}
	bp.Start = start
	bp.End = end
	return nil
}

// Bill accretes over one billing period. It is created when a reading first
// falls inside a new period and then mutated in place on every subsequent
// reading until the period ends.
type Bill struct {
	ActualUsage         float64       `json:"actual_usage"`
	StandingCharge      float64       `json:"standing_charge"`
	Total               float64       `json:"total"`
	UnitsStart          float64       `json:"units_start"`
	UnitsEnd            float64       `json:"units_end"`
	PricePerUnit        float64       `json:"price_per_unit"`
	DailyStandingCharge float64       `json:"daily_standing_charge"`
	BillingPeriod       BillingPeriod `json:"billing_period"`
}

// BillFromReading opens a client's first bill: the whole meter value counts
// as usage and the standing charge covers one day.
func BillFromReading(r Reading, pricePerUnit, dailyStandingCharge float64) Bill {
	return Bill{
		ActualUsage:         r.Reading * pricePerUnit,
		StandingCharge:      dailyStandingCharge,
		Total:               r.Reading*pricePerUnit + dailyStandingCharge,
		UnitsStart:          0,
		UnitsEnd:            r.Reading,
		PricePerUnit:        pricePerUnit,
		DailyStandingCharge: dailyStandingCharge,
		BillingPeriod:       NewBillingPeriod(r.Time),
	}
}

// Client as stored by the database: a credential hash plus the ordered
// reading and bill history. The id (decimal form of a uint64) lives in the
// store's keyspace, not on the struct.
type Client struct {
	TokenHash string
	Readings  []Reading
	Bills     []Bill
}
