package sequence

import (
	"sort"

	"example.com/uploadcore/internal/records"
)

// Overlap reports two uploads of one device whose log ranges intersect,
// which usually means the later upload re-read history. EarlierEnd and
// LaterStart are log indices.
type Overlap struct {
	Earlier    string `json:"earlier"`
	Later      string `json:"later"`
	EarlierEnd int    `json:"earlierEnd"`
	LaterStart int    `json:"laterStart"`
}

type span struct {
	id         string
	start, end int
}

// Overlaps compares consecutive uploads by where they start in the device
// log. Device time is not used since the clock may have been reset between
// uploads. Clock change records are ignored since their identity belongs to
// the pump session.
func Overlaps(recs []records.Record) []Overlap {
	spans := map[string]*span{}
	for _, r := range recs {
		b := r.Header()
		if records.IsTimeChange(r) || len(b.Payload.LogIndices) == 0 {
			continue
		}
		idx := b.Payload.LogIndices[0]
		s, ok := spans[b.Identity.UploadID]
		if !ok {
			spans[b.Identity.UploadID] = &span{id: b.Identity.UploadID, start: idx, end: idx}
			continue
		}
		s.start = min(s.start, idx)
		s.end = max(s.end, idx)
	}
	ordered := make([]*span, 0, len(spans))
	for _, s := range spans {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].start != ordered[j].start {
			return ordered[i].start < ordered[j].start
		}
		return ordered[i].id < ordered[j].id
	})
	var out []Overlap
	for i := 0; i+1 < len(ordered); i++ {
		a, b := ordered[i], ordered[i+1]
		if a.end > b.start {
			out = append(out, Overlap{Earlier: a.id, Later: b.id, EarlierEnd: a.end, LaterStart: b.start})
		}
	}
	return out
}
