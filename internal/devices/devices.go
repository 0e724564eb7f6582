// Package devices holds the packet tables and mapping functions of the
// supported device families.
package devices

import (
	"errors"
	"fmt"
	"sort"

	"example.com/uploadcore/internal/normalize"
	"example.com/uploadcore/internal/pages"
)

var ErrUnknownFamily = errors.New("unknown device family")

// Family pairs a packet table with the mapping function of each of its
// packet types.
type Family struct {
	Name  string
	Table *pages.Table
	Maps  map[string]normalize.MapFunc
}

// Normalizer returns a normalizer for the family's mappings.
func (f *Family) Normalizer() *normalize.Normalizer {
	return normalize.New(f.Maps)
}

// WithTable returns a copy of f using table, which must only declare packet
// types the family can map.
func (f *Family) WithTable(table *pages.Table) (*Family, error) {
	if table.Family() != f.Name {
		return nil, fmt.Errorf("table family %q does not match %q", table.Family(), f.Name)
	}
	if err := checkMapped(table, f.Maps); err != nil {
		return nil, err
	}
	return &Family{Name: f.Name, Table: table, Maps: f.Maps}, nil
}

func checkMapped(table *pages.Table, maps map[string]normalize.MapFunc) error {
	for _, pt := range table.Types() {
		if _, ok := maps[pt.Name]; !ok {
			return fmt.Errorf("%s: %w: %s", table.Family(), normalize.ErrNoMapping, pt.Name)
		}
	}
	return nil
}

var registry = map[string]func() (*Family, error){
	"podlog": Podlog,
}

// Lookup builds the named family.
func Lookup(name string) (*Family, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
	}
	return build()
}

// Names lists the built-in families.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
