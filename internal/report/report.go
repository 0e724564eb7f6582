// Package report summarizes a decoded upload as JSON and PDF.
package report

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"example.com/uploadcore/internal/common"
	"example.com/uploadcore/internal/pages"
	"example.com/uploadcore/internal/pipeline"
	"example.com/uploadcore/internal/sequence"
)

type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Summary is what a reviewer needs to accept or reject one decoded upload.
type Summary struct {
	BatchID     string                  `json:"batchId,omitempty"`
	Family      string                  `json:"family"`
	DeviceID    string                  `json:"deviceId,omitempty"`
	GeneratedAt time.Time               `json:"generatedAt"`
	Pages       int                     `json:"pages"`
	Records     int                     `json:"records"`
	ByType      []TypeCount             `json:"byType"`
	First       time.Time               `json:"first,omitempty"`
	Last        time.Time               `json:"last,omitempty"`
	Gaps        []pages.Gap             `json:"gaps"`
	Rejected    []pipeline.Rejection    `json:"rejected"`
	Duplicates  []sequence.Duplicate    `json:"duplicates"`
	Overlaps    []sequence.Overlap      `json:"overlaps"`
	Output      string                  `json:"output,omitempty"`
	Digest      string                  `json:"digest,omitempty"`
	Metrics     *common.MetricsSnapshot `json:"metrics,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Complete reports whether the upload decoded without losing anything.
func (s Summary) Complete() bool {
	return s.Error == "" && len(s.Gaps) == 0 && len(s.Rejected) == 0
}

// Summarize builds a summary of out. The caller fills the batch, output and
// digest fields.
func Summarize(family, deviceID string, out pipeline.Output, runErr error) Summary {
	s := Summary{
		Family:      family,
		DeviceID:    deviceID,
		GeneratedAt: time.Now().UTC(),
		Pages:       out.Pages,
		Records:     len(out.Records),
		Gaps:        out.Gaps,
		Rejected:    out.Rejected,
		Duplicates:  out.Duplicates,
		Overlaps:    out.Overlaps,
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	counts := map[string]int{}
	for _, r := range out.Records {
		b := r.Header()
		name := b.Type
		if b.SubType != "" {
			name += "/" + b.SubType
		}
		counts[name]++
		if s.First.IsZero() || b.Time.Before(s.First) {
			s.First = b.Time
		}
		if b.Time.After(s.Last) {
			s.Last = b.Time
		}
	}
	for name, n := range counts {
		s.ByType = append(s.ByType, TypeCount{Type: name, Count: n})
	}
	sort.Slice(s.ByType, func(i, j int) bool { return s.ByType[i].Type < s.ByType[j].Type })
	return s
}

func SaveSummaryJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadSummaryJSON(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}
