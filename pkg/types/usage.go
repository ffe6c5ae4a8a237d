package types

import (
	"encoding/json"
	"time"
)

// Account is one entry of the portal's account selector. The portal sends
// account numbers as bare JSON numbers, so the field keeps them verbatim.
type Account struct {
	AccountNumber json.Number `json:"accountNumber"`
	OPowerDomain  string      `json:"oPowerDomain"`
}

// AccountContext identifies the account and premise a session is scoped
// to. It is resolved once per login and cached until the next one.
type AccountContext struct {
	AccountNumber string `json:"accountNumber"`
	PremiseID     string `json:"premiseID"`
	LoggedIn      bool   `json:"loggedIn"`
}

// UsageRecord is one row of the portal's usage report. The portal zeroes
// fields it has no data for rather than omitting them, and formats dates
// differently per interval, so the date fields stay strings.
type UsageRecord struct {
	Period       string  `json:"period"`
	BillStart    string  `json:"billStart"`
	BillEnd      string  `json:"billEnd"`
	BillDate     string  `json:"billDate"`
	Date         string  `json:"date"`
	Usage        float64 `json:"usage"`
	Demand       float64 `json:"demand"`
	AvgDemand    float64 `json:"avgDemand"`
	PeakDemand   float64 `json:"peakDemand"`
	PeakDateTime string  `json:"peakDateTime"`
	MaxTemp      float64 `json:"maxTemp"`
	MinTemp      float64 `json:"minTemp"`
	AvgTemp      float64 `json:"avgTemp"`
	Cost         float64 `json:"cost"`
	Address      string  `json:"address"`
	IsPartial    bool    `json:"isPartial"`
}

// UsageReport pairs the rows of one usage query with the account dashboard
// captured at login.
type UsageReport struct {
	Usage     []UsageRecord   `json:"usage"`
	Dashboard json.RawMessage `json:"dashboard"`
}

// MeterReading is the flattened form of a usage row that gets persisted
// and published. PeriodStart and PeriodEnd are the UTC bounds of the
// reading's interval.
type MeterReading struct {
	AccountNumber string    `json:"accountNumber"`
	PremiseID     string    `json:"premiseID"`
	Interval      string    `json:"interval"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
	UsageKWH      float64   `json:"usageKWH"`
	Cost          float64   `json:"cost"`
	PeakDemandKW  float64   `json:"peakDemandKW"`
	AvgTemp       float64   `json:"avgTemp"`
	IsPartial     bool      `json:"isPartial"`
	CapturedAt    time.Time `json:"capturedAt"`
}
