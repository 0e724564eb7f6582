package devices

import (
	_ "embed"
	"fmt"
	"time"

	"example.com/uploadcore/internal/normalize"
	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/records"
)

//go:embed podlog.yaml
var podlogTable []byte

// BGSentinel is the raw wizard value meaning no reading was entered.
const BGSentinel = 65535

var trends = map[int64]string{
	0: "",
	1: "doubleUp",
	2: "singleUp",
	3: "fortyFiveUp",
	4: "flat",
	5: "fortyFiveDown",
	6: "singleDown",
	7: "doubleDown",
}

var deliveryTypes = map[int64]string{
	0: "scheduled",
	1: "temp",
	2: "suspend",
}

// Podlog is the PDM event log family.
func Podlog() (*Family, error) {
	table, err := pages.ParseTable(podlogTable)
	if err != nil {
		return nil, fmt.Errorf("podlog table: %w", err)
	}
	maps := map[string]normalize.MapFunc{
		"bolus":      podBolus,
		"wizard":     podWizard,
		"basal":      podBasal,
		"cbg":        podCBG,
		"smbg":       podSMBG,
		"settings":   podSettings,
		"timechange": podTimeChange,
	}
	if err := checkMapped(table, maps); err != nil {
		return nil, err
	}
	return &Family{Name: "podlog", Table: table, Maps: maps}, nil
}

func identity(p pages.Packet) records.Identity {
	return records.Identity{UploadID: p.Head.Str("uploadId"), Seq: p.Head.Num("seq")}
}

func base(p pages.Packet, typ, subType string) records.Base {
	return records.Base{Type: typ, SubType: subType, Identity: identity(p)}
}

func minutesToMs(m int64) int64 {
	return m * int64(time.Minute/time.Millisecond)
}

func podBolus(p pages.Packet) (records.Record, error) {
	normal := normalize.Hundredths(p.Body.Num("units"))
	extended := normalize.Hundredths(p.Body.Num("extended"))
	sub := "normal"
	switch {
	case extended.IsPositive() && normal.IsPositive():
		sub = "dual/square"
	case extended.IsPositive():
		sub = "square"
	}
	b := &records.Bolus{
		Base:     base(p, records.TypeBolus, sub),
		Normal:   normalize.Float(normal),
		Extended: normalize.Float(extended),
	}
	if extended.IsPositive() {
		b.Duration = minutesToMs(p.Body.Num("duration"))
	}
	return b, nil
}

func podWizard(p pages.Packet) (records.Record, error) {
	in := normalize.WizardInputs{
		CarbUnits:       normalize.Hundredths(p.Body.Num("carbUnits")),
		CorrectionUnits: normalize.Hundredths(p.Body.Num("corrUnits")),
		MealIOB:         normalize.Hundredths(p.Body.Num("mealIob")),
		CorrectionIOB:   normalize.Hundredths(p.Body.Num("corrIob")),
		CurrentBG:       normalize.OptionalReading(p.Body.Num("bg"), BGSentinel),
	}
	return &records.Wizard{
		Base: base(p, records.TypeWizard, ""),
		Recommended: records.Recommended{
			Carb:       normalize.Float(in.CarbUnits),
			Correction: normalize.Float(in.CorrectionUnits),
			Net:        normalize.Float(normalize.NetRecommendation(in)),
		},
		BGInput:        in.CurrentBG.Ptr(),
		CarbInput:      int(p.Body.Num("carbInput")),
		InsulinOnBoard: normalize.Float(normalize.RoundHundredths(in.MealIOB.Add(in.CorrectionIOB))),
		Units:          records.UnitsMgdL,
	}, nil
}

func podBasal(p pages.Packet) (records.Record, error) {
	code := p.Body.Num("deliveryType")
	dt, ok := deliveryTypes[code]
	if !ok {
		return nil, fmt.Errorf("%w: delivery type %d", normalize.ErrFieldRange, code)
	}
	rate := normalize.Float(normalize.Hundredths(p.Body.Num("rate")))
	if dt == "suspend" {
		rate = 0
	}
	return &records.Basal{
		Base:         base(p, records.TypeBasal, ""),
		DeliveryType: dt,
		Rate:         rate,
		Duration:     minutesToMs(p.Body.Num("duration")),
	}, nil
}

func podCBG(p pages.Packet) (records.Record, error) {
	v := p.Body.Num("value")
	if err := normalize.CheckRange("value", v, 39, 401); err != nil {
		return nil, err
	}
	code := p.Body.Num("trend")
	trend, ok := trends[code]
	if !ok {
		return nil, fmt.Errorf("%w: trend %d", normalize.ErrFieldRange, code)
	}
	return &records.CBG{
		Base:  base(p, records.TypeCBG, ""),
		Value: int(v),
		Units: records.UnitsMgdL,
		Trend: trend,
	}, nil
}

func podSMBG(p pages.Packet) (records.Record, error) {
	v := p.Body.Num("value")
	if err := normalize.CheckRange("value", v, 20, 600); err != nil {
		return nil, err
	}
	return &records.SMBG{
		Base:   base(p, records.TypeSMBG, ""),
		Value:  int(v),
		Units:  records.UnitsMgdL,
		Manual: p.Body.Num("flags")&1 != 0,
	}, nil
}

func podSettings(p pages.Packet) (records.Record, error) {
	return &records.Settings{
		Base:           base(p, records.TypeSettings, ""),
		MaxBolus:       normalize.Float(normalize.Hundredths(p.Body.Num("maxBolus"))),
		MaxBasal:       normalize.Float(normalize.Hundredths(p.Body.Num("maxBasal"))),
		InsulinAction:  minutesToMs(p.Body.Num("insulinAction")),
		ActiveSchedule: p.Body.Str("schedule"),
	}, nil
}

func podTimeChange(p pages.Packet) (records.Record, error) {
	b := p.Body
	from, err := pages.ComponentDate(int(b.Num("fromYear")), int(b.Num("fromMonth")), int(b.Num("fromDay")),
		int(b.Num("fromHour")), int(b.Num("fromMinute")), int(b.Num("fromSecond")))
	if err != nil {
		return nil, fmt.Errorf("change from: %w", err)
	}
	tc := &records.TimeChange{
		Base: records.Base{Type: records.TypeDeviceEvt, SubType: records.SubTimeChange},
		Change: records.Change{
			From:  records.LocalTime(from),
			To:    records.LocalTime(p.Date),
			Agent: records.AgentManual,
		},
		PumpUploadID: b.Str("pumpUploadId"),
		PumpSeq:      b.Num("pumpSeq"),
	}
	tc.Identity = records.Identity{UploadID: tc.PumpUploadID, Seq: tc.PumpSeq}
	return tc, nil
}
