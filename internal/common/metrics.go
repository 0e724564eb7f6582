package common

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Metrics counts the work of one decode run. It is safe for concurrent use
// so a progress printer can read it while the pipeline writes.
type Metrics struct {
	mu         sync.Mutex
	start      time.Time
	end        time.Time
	bytes      int64
	totalPages int64
	pages      int64
	packets    int64
	gaps       int64
	records    int64
	rejected   int64
	duplicates int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

// AddPage records one committed page of size bytes and what it yielded.
func (m *Metrics) AddPage(size int64, packets, gaps int) {
	m.mu.Lock()
	m.pages++
	if size > 0 {
		m.bytes += size
	}
	m.packets += int64(packets)
	m.gaps += int64(gaps)
	m.mu.Unlock()
}

func (m *Metrics) AddGaps(n int) {
	m.mu.Lock()
	m.gaps += int64(n)
	m.mu.Unlock()
}

func (m *Metrics) AddRejected(n int) {
	m.mu.Lock()
	m.rejected += int64(n)
	m.mu.Unlock()
}

// SetResult stores the final record and duplicate counts.
func (m *Metrics) SetResult(records, duplicates int) {
	m.mu.Lock()
	m.records = int64(records)
	m.duplicates = int64(duplicates)
	m.mu.Unlock()
}

func (m *Metrics) SetTotalPages(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalPages = total
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:   m.elapsedLocked(),
		Bytes:      m.bytes,
		TotalPages: m.totalPages,
		Pages:      m.pages,
		Packets:    m.packets,
		Gaps:       m.gaps,
		Records:    m.records,
		Rejected:   m.rejected,
		Duplicates: m.duplicates,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration   time.Duration `json:"duration"`
	Bytes      int64         `json:"bytes"`
	TotalPages int64         `json:"totalPages"`
	Pages      int64         `json:"pages"`
	Packets    int64         `json:"packets"`
	Gaps       int64         `json:"gaps"`
	Records    int64         `json:"records"`
	Rejected   int64         `json:"rejected"`
	Duplicates int64         `json:"duplicates"`
}

func (s MetricsSnapshot) PagesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Pages) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.TotalPages <= 0 {
		return 0
	}
	ratio := float64(s.Pages) / float64(s.TotalPages)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	if s.TotalPages > 0 {
		pct := s.Completion() * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			pct = 0
		}
		return fmt.Sprintf("Progress: %6.2f%% (%d / %d pages, %s) %d packets %d gaps",
			pct, s.Pages, s.TotalPages, FormatBytes(s.Bytes), s.Packets, s.Gaps)
	}
	return fmt.Sprintf("Processed: %d pages (%s) %d packets %d gaps", s.Pages, FormatBytes(s.Bytes), s.Packets, s.Gaps)
}

func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
