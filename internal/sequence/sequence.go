// Package sequence puts records from one or more uploads into a single total
// order and resolves duplicate identities.
package sequence

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"example.com/uploadcore/internal/records"
)

var (
	ErrDuplicateIdentity = errors.New("duplicate record identity")
	ErrUnknownPolicy     = errors.New("unknown dedup policy")
)

// Policy selects which of two records with the same identity survives.
type Policy string

const (
	FirstWins Policy = "first-wins"
	LastWins  Policy = "last-wins"
	Reject    Policy = "reject"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case FirstWins, LastWins, Reject:
		return p, nil
	case "":
		return FirstWins, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

type Options struct {
	Policy Policy
}

// Duplicate records an identity seen more than once. Positions are indexes
// into the input slice.
type Duplicate struct {
	Identity records.Identity `json:"identity"`
	Type     string           `json:"type"`
	Kept     int              `json:"kept"`
	Dropped  int              `json:"dropped"`
}

type Result struct {
	Records    []records.Record
	Duplicates []Duplicate
}

type class int

const (
	ordinary class = iota
	timeChange
)

type entry struct {
	rec   records.Record
	id    records.Identity
	class class
	tie   string
	pos   int
}

func newEntry(r records.Record, pos int) entry {
	b := r.Header()
	e := entry{rec: r, id: b.Identity, tie: b.Type + "/" + b.SubType, pos: pos}
	if records.IsTimeChange(r) {
		e.class = timeChange
	}
	return e
}

func (e entry) sameIdentity(o entry) bool {
	return e.id == o.id && e.class == o.class && e.tie == o.tie
}

// less orders by upload id, then ordinary records before clock changes.
// Ordinary records ascend by sequence number; clock changes descend, as the
// pumps number them in reverse.
func less(a, b entry) bool {
	if a.id.UploadID != b.id.UploadID {
		return a.id.UploadID < b.id.UploadID
	}
	if a.class != b.class {
		return a.class < b.class
	}
	if a.id.Seq != b.id.Seq {
		if a.class == timeChange {
			return a.id.Seq > b.id.Seq
		}
		return a.id.Seq < b.id.Seq
	}
	if a.tie != b.tie {
		return a.tie < b.tie
	}
	return a.pos < b.pos
}

// Order sorts recs, removes duplicates according to opts.Policy and assigns
// each surviving record its zero-based position as Index. With Reject, any
// duplicate fails the batch and no records are returned.
func Order(recs []records.Record, opts Options) (Result, error) {
	policy := opts.Policy
	if policy == "" {
		policy = FirstWins
	}
	if policy != FirstWins && policy != LastWins && policy != Reject {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	entries := make([]entry, len(recs))
	for i, r := range recs {
		entries[i] = newEntry(r, i)
	}
	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })

	var res Result
	kept := make([]entry, 0, len(entries))
	for _, e := range entries {
		if n := len(kept); n > 0 && kept[n-1].sameIdentity(e) {
			// entries with equal identity are adjacent and in input order
			prev := kept[n-1]
			d := Duplicate{Identity: e.id, Type: e.tie, Kept: prev.pos, Dropped: e.pos}
			if policy == LastWins {
				kept[n-1] = e
				d.Kept, d.Dropped = e.pos, prev.pos
			}
			res.Duplicates = append(res.Duplicates, d)
			continue
		}
		kept = append(kept, e)
	}
	if policy == Reject && len(res.Duplicates) > 0 {
		d := res.Duplicates[0]
		return Result{Duplicates: res.Duplicates}, fmt.Errorf("%w: %s %s at input %d and %d (%d duplicates)",
			ErrDuplicateIdentity, d.Type, d.Identity, d.Kept, d.Dropped, len(res.Duplicates))
	}
	res.Records = make([]records.Record, len(kept))
	for i, e := range kept {
		e.rec.Header().Index = i
		res.Records[i] = e.rec
	}
	return res, nil
}
