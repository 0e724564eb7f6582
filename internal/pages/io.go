package pages

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ReadPages reads one JSON RawPage per line. Blank lines are skipped.
func ReadPages(r io.Reader) ([]RawPage, error) {
	var out []RawPage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var p RawPage
		if err := json.Unmarshal(b, &p); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	return out, nil
}

// SplitPages cuts a raw dump into valid pages of size bytes numbered from 0.
// A size of 0 gives a single page.
func SplitPages(data []byte, size int) []RawPage {
	if size <= 0 || len(data) <= size {
		return []RawPage{{Ordinal: 0, Data: data, Valid: true}}
	}
	out := make([]RawPage, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		out = append(out, RawPage{Ordinal: len(out), Data: data[off:end], Valid: true})
	}
	return out
}
