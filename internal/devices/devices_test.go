package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"example.com/uploadcore/internal/normalize"
	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/records"
	"example.com/uploadcore/internal/structs"
)

var when = time.Date(2017, 5, 2, 8, 15, 0, 0, time.UTC)

func num(v int64) structs.Value { return structs.Value{Num: v} }

func packet(t *testing.T, fam *Family, name string, seq int64, body structs.Record) []byte {
	t.Helper()
	head := structs.Record{"uploadId": {Str: "u1"}, "seq": num(seq)}
	b, err := fam.Table.EncodePacket(name, head, pages.ComponentRecord(when), body)
	if err != nil {
		t.Fatalf("EncodePacket(%s) error: %v", name, err)
	}
	return b
}

func decodeOne(t *testing.T, fam *Family, data []byte) records.Record {
	t.Helper()
	a := pages.NewAssembler(fam.Table, pages.Options{Strict: true})
	res, err := a.Assemble(context.Background(), []pages.RawPage{{Ordinal: 0, Valid: true, Data: data}})
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(res.Packets) != 1 {
		t.Fatalf("Assemble = %d packets, want 1", len(res.Packets))
	}
	r, err := fam.Normalizer().Normalize(res.Packets[0])
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	return r
}

func mustPodlog(t *testing.T) *Family {
	t.Helper()
	fam, err := Podlog()
	if err != nil {
		t.Fatalf("Podlog error: %v", err)
	}
	return fam
}

func TestPodlogTable(t *testing.T) {
	fam := mustPodlog(t)
	pt, ok := fam.Table.Lookup(0x01)
	if !ok || pt.Name != "bolus" {
		t.Fatalf("Lookup(0x01) = %+v, %v", pt, ok)
	}
	if got := pt.Len(); got != 25 {
		t.Fatalf("bolus Len = %d, want 25", got)
	}
	if got := len(fam.Table.Types()); got != 7 {
		t.Fatalf("Types = %d, want 7", got)
	}
}

func TestPodlogBolus(t *testing.T) {
	fam := mustPodlog(t)
	tests := []struct {
		name     string
		units    int64
		extended int64
		sub      string
		duration int64
	}{
		{"normal", 250, 0, "normal", 0},
		{"square", 0, 100, "square", 30 * 60000},
		{"dual", 150, 100, "dual/square", 30 * 60000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := packet(t, fam, "bolus", 9, structs.Record{
				"units": num(tt.units), "extended": num(tt.extended), "duration": num(30),
			})
			b, ok := decodeOne(t, fam, data).(*records.Bolus)
			if !ok {
				t.Fatalf("record is not a bolus")
			}
			if b.SubType != tt.sub || b.Duration != tt.duration {
				t.Fatalf("bolus = %s/%d, want %s/%d", b.SubType, b.Duration, tt.sub, tt.duration)
			}
			if b.Normal != float64(tt.units)/100 {
				t.Fatalf("Normal = %v, want %v", b.Normal, float64(tt.units)/100)
			}
			if b.Identity != (records.Identity{UploadID: "u1", Seq: 9}) {
				t.Fatalf("Identity = %v", b.Identity)
			}
			if !b.DeviceTime.Time().Equal(when) {
				t.Fatalf("DeviceTime = %v, want %v", b.DeviceTime, when)
			}
		})
	}
}

func TestPodlogWizard(t *testing.T) {
	fam := mustPodlog(t)
	body := func(bg int64) structs.Record {
		return structs.Record{
			"carbUnits": num(100), "corrUnits": num(50), "mealIob": num(30),
			"corrIob": num(15), "bg": num(bg), "carbInput": num(45),
		}
	}
	w := decodeOne(t, fam, packet(t, fam, "wizard", 1, body(180))).(*records.Wizard)
	if w.Recommended.Net != 1.05 {
		t.Fatalf("Net = %v, want 1.05", w.Recommended.Net)
	}
	if w.BGInput == nil || *w.BGInput != 180 {
		t.Fatalf("BGInput = %v, want 180", w.BGInput)
	}
	if w.InsulinOnBoard != 0.45 || w.CarbInput != 45 {
		t.Fatalf("wizard = %+v", w)
	}

	w = decodeOne(t, fam, packet(t, fam, "wizard", 2, body(BGSentinel))).(*records.Wizard)
	if w.BGInput != nil {
		t.Fatalf("BGInput = %d, want nil", *w.BGInput)
	}
	if w.Recommended.Net != 1 {
		t.Fatalf("Net = %v, want 1", w.Recommended.Net)
	}
}

func TestPodlogBasalSuspend(t *testing.T) {
	fam := mustPodlog(t)
	data := packet(t, fam, "basal", 3, structs.Record{"rate": num(85), "duration": num(60), "deliveryType": num(2)})
	b := decodeOne(t, fam, data).(*records.Basal)
	if b.DeliveryType != "suspend" || b.Rate != 0 || b.Duration != 3600000 {
		t.Fatalf("basal = %+v", b)
	}
}

func TestPodlogRangeErrors(t *testing.T) {
	fam := mustPodlog(t)
	tests := []struct {
		name string
		typ  string
		body structs.Record
	}{
		{"cbg low", "cbg", structs.Record{"value": num(12), "trend": num(4)}},
		{"cbg trend", "cbg", structs.Record{"value": num(120), "trend": num(9)}},
		{"smbg high", "smbg", structs.Record{"value": num(700), "flags": num(0)}},
		{"basal type", "basal", structs.Record{"rate": num(10), "duration": num(10), "deliveryType": num(7)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := pages.NewAssembler(fam.Table, pages.Options{})
			res, err := a.Assemble(context.Background(), []pages.RawPage{{Valid: true, Data: packet(t, fam, tt.typ, 1, tt.body)}})
			if err != nil {
				t.Fatalf("Assemble error: %v", err)
			}
			_, err = fam.Normalizer().Normalize(res.Packets[0])
			if !errors.Is(err, normalize.ErrFieldRange) {
				t.Fatalf("Normalize error = %v, want ErrFieldRange", err)
			}
		})
	}
}

func TestPodlogReadings(t *testing.T) {
	fam := mustPodlog(t)
	c := decodeOne(t, fam, packet(t, fam, "cbg", 4, structs.Record{"value": num(120), "trend": num(4)})).(*records.CBG)
	if c.Value != 120 || c.Trend != "flat" || c.Units != records.UnitsMgdL {
		t.Fatalf("cbg = %+v", c)
	}
	s := decodeOne(t, fam, packet(t, fam, "smbg", 5, structs.Record{"value": num(98), "flags": num(1)})).(*records.SMBG)
	if s.Value != 98 || !s.Manual {
		t.Fatalf("smbg = %+v", s)
	}
}

func TestPodlogSettings(t *testing.T) {
	fam := mustPodlog(t)
	data := packet(t, fam, "settings", 6, structs.Record{
		"maxBolus": num(1000), "maxBasal": num(300), "insulinAction": num(240), "schedule": {Str: "weekday"},
	})
	s := decodeOne(t, fam, data).(*records.Settings)
	if s.MaxBolus != 10 || s.MaxBasal != 3 || s.InsulinAction != 4*3600000 || s.ActiveSchedule != "weekday" {
		t.Fatalf("settings = %+v", s)
	}
}

func TestPodlogTimeChange(t *testing.T) {
	fam := mustPodlog(t)
	data := packet(t, fam, "timechange", 7, structs.Record{
		"fromYear": num(17), "fromMonth": num(5), "fromDay": num(2),
		"fromHour": num(9), "fromMinute": num(15), "fromSecond": num(0),
		"pumpUploadId": {Str: "pump7"}, "pumpSeq": num(41),
	})
	tc := decodeOne(t, fam, data).(*records.TimeChange)
	if tc.Identity != (records.Identity{UploadID: "pump7", Seq: 41}) {
		t.Fatalf("Identity = %v, want pump7/41", tc.Identity)
	}
	if want := time.Date(2017, 5, 2, 9, 15, 0, 0, time.UTC); !tc.Change.From.Time().Equal(want) {
		t.Fatalf("From = %v, want %v", tc.Change.From, want)
	}
	if !tc.Change.To.Time().Equal(when) || tc.SubType != records.SubTimeChange {
		t.Fatalf("change = %+v", tc.Change)
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("podlog"); err != nil {
		t.Fatalf("Lookup(podlog) error: %v", err)
	}
	if _, err := Lookup("nope"); !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("Lookup(nope) error = %v, want ErrUnknownFamily", err)
	}
	if got := Names(); len(got) != 1 || got[0] != "podlog" {
		t.Fatalf("Names = %v", got)
	}
}

func TestWithTable(t *testing.T) {
	fam := mustPodlog(t)
	head := pages.Section{Format: structs.MustParse("s", "seq"), Len: 2}
	other, err := pages.NewTable("podlog", pages.TableOptions{NoEndMarker: true},
		pages.PacketType{Name: "mystery", Discriminator: 0x30, Head: head})
	if err != nil {
		t.Fatalf("NewTable error: %v", err)
	}
	if _, err := fam.WithTable(other); !errors.Is(err, normalize.ErrNoMapping) {
		t.Fatalf("WithTable error = %v, want ErrNoMapping", err)
	}
	wrong, err := pages.NewTable("pumplog", pages.TableOptions{NoEndMarker: true})
	if err != nil {
		t.Fatalf("NewTable error: %v", err)
	}
	if _, err := fam.WithTable(wrong); err == nil {
		t.Fatalf("WithTable accepted a table of another family")
	}
}
