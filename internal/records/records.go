// Package records defines the canonical clinical record variants emitted by
// the pipeline.
package records

import (
	"encoding/json"
	"fmt"
	"time"
)

const deviceTimeLayout = "2006-01-02T15:04:05"

// LocalTime is a naive device wall time. It marshals without an offset.
type LocalTime time.Time

func (l LocalTime) Time() time.Time { return time.Time(l) }

func (l LocalTime) String() string { return time.Time(l).Format(deviceTimeLayout) }

func (l LocalTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *LocalTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ts, err := ParseLocalTime(s)
	if err != nil {
		return fmt.Errorf("deviceTime: %w", err)
	}
	*l = ts
	return nil
}

// ParseLocalTime reads a naive wall time such as "2016-11-06T02:00:00".
func ParseLocalTime(s string) (LocalTime, error) {
	ts, err := time.Parse(deviceTimeLayout, s)
	if err != nil {
		return LocalTime{}, err
	}
	return LocalTime(ts), nil
}

// Identity orders and deduplicates records. It is not a storage key.
type Identity struct {
	UploadID string
	Seq      int64
}

func (id Identity) String() string { return fmt.Sprintf("%s/%d", id.UploadID, id.Seq) }

type Payload struct {
	LogIndices []int `json:"logIndices"`
}

// Base carries the fields shared by every variant.
type Base struct {
	Type             string    `json:"type"`
	SubType          string    `json:"subType,omitempty"`
	Time             time.Time `json:"time"`
	DeviceTime       LocalTime `json:"deviceTime"`
	TimezoneOffset   int       `json:"timezoneOffset"`
	ClockDriftOffset int64     `json:"clockDriftOffset"`
	ConversionOffset int64     `json:"conversionOffset"`
	Payload          Payload   `json:"payload"`
	Index            int       `json:"index"`
	ID               string    `json:"id,omitempty"`
	Identity         Identity  `json:"-"`
}

func (b *Base) Header() *Base { return b }

func (b *Base) record() {}

// Record is implemented by the variants of this package only.
type Record interface {
	Header() *Base
	record()
}

type Bolus struct {
	Base
	Normal   float64 `json:"normal"`
	Extended float64 `json:"extended,omitempty"`
	// Duration of the extended part in milliseconds.
	Duration int64 `json:"duration,omitempty"`
}

type Recommended struct {
	Carb       float64 `json:"carb"`
	Correction float64 `json:"correction"`
	Net        float64 `json:"net"`
}

type Wizard struct {
	Base
	Recommended    Recommended `json:"recommended"`
	BGInput        *int        `json:"bgInput,omitempty"`
	CarbInput      int         `json:"carbInput"`
	InsulinOnBoard float64     `json:"insulinOnBoard"`
	Units          string      `json:"units"`
}

type Basal struct {
	Base
	DeliveryType string  `json:"deliveryType"`
	Rate         float64 `json:"rate"`
	Duration     int64   `json:"duration"`
}

type CBG struct {
	Base
	Value int    `json:"value"`
	Units string `json:"units"`
	Trend string `json:"trend,omitempty"`
}

type SMBG struct {
	Base
	Value  int    `json:"value"`
	Units  string `json:"units"`
	Manual bool   `json:"manual,omitempty"`
}

type Settings struct {
	Base
	MaxBolus       float64 `json:"maxBolus"`
	MaxBasal       float64 `json:"maxBasal"`
	InsulinAction  int64   `json:"insulinActionDuration"`
	ActiveSchedule string  `json:"activeSchedule"`
}

type Change struct {
	From  LocalTime `json:"from"`
	To    LocalTime `json:"to"`
	Agent string    `json:"agent"`
}

// TimeChange marks a device clock change. Its identity comes from the pump's
// own upload and sequence fields.
type TimeChange struct {
	Base
	Change       Change `json:"change"`
	PumpUploadID string `json:"-"`
	PumpSeq      int64  `json:"-"`
}

const (
	TypeBolus     = "bolus"
	TypeWizard    = "wizard"
	TypeBasal     = "basal"
	TypeCBG       = "cbg"
	TypeSMBG      = "smbg"
	TypeSettings  = "pumpSettings"
	TypeDeviceEvt = "deviceEvent"
	SubTimeChange = "timeChange"
	UnitsMgdL     = "mg/dL"
	AgentManual   = "manual"
)

// IsTimeChange reports whether r is a clock change record.
func IsTimeChange(r Record) bool {
	_, ok := r.(*TimeChange)
	return ok
}
