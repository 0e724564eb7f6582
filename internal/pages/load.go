package pages

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"example.com/uploadcore/internal/structs"
)

// TableDocument is the YAML (or JSON) form of a packet type table.
type TableDocument struct {
	Family      string           `yaml:"family" json:"family"`
	PageSize    int              `yaml:"pageSize" json:"pageSize"`
	Compression string           `yaml:"compression" json:"compression"`
	EndMarker   *int             `yaml:"endMarker" json:"endMarker"`
	Spanning    bool             `yaml:"spanning" json:"spanning"`
	Epoch       string           `yaml:"epoch" json:"epoch"`
	Head        *SectionDocument `yaml:"head" json:"head"`
	Date        *SectionDocument `yaml:"date" json:"date"`
	Types       []TypeDocument   `yaml:"types" json:"types"`
}

// SectionDocument is a layout in the struct format mini-language. Length is
// optional and, when given, must match the layout.
type SectionDocument struct {
	Format string   `yaml:"format" json:"format"`
	Names  []string `yaml:"names" json:"names"`
	Length *int     `yaml:"length" json:"length"`
	Kind   string   `yaml:"kind" json:"kind"`
}

// TypeDocument describes one packet type. Head and Date fall back to the
// table-level sections when omitted.
type TypeDocument struct {
	Name          string           `yaml:"name" json:"name"`
	Discriminator int              `yaml:"discriminator" json:"discriminator"`
	Head          *SectionDocument `yaml:"head" json:"head"`
	Date          *SectionDocument `yaml:"date" json:"date"`
	Body          *SectionDocument `yaml:"body" json:"body"`
}

// LoadTable reads a table document from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML or JSON table document.
func ParseTable(data []byte) (*Table, error) {
	var doc TableDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}
	return FromDocument(doc)
}

func FromDocument(doc TableDocument) (*Table, error) {
	family := strings.TrimSpace(doc.Family)
	if family == "" {
		return nil, fmt.Errorf("table: empty family")
	}
	opts := TableOptions{
		PageSize:    doc.PageSize,
		Compression: Compression(strings.ToLower(strings.TrimSpace(doc.Compression))),
		EndMarker:   0xFF,
		Spanning:    doc.Spanning,
	}
	if doc.PageSize < 0 {
		return nil, fmt.Errorf("%s: negative page size", family)
	}
	if doc.EndMarker != nil {
		switch m := *doc.EndMarker; {
		case m < 0:
			opts.NoEndMarker = true
		case m > 0xFF:
			return nil, fmt.Errorf("%s: end marker out of range", family)
		default:
			opts.EndMarker = byte(m)
		}
	}
	if doc.Epoch != "" {
		ts, err := time.Parse(time.RFC3339, doc.Epoch)
		if err != nil {
			return nil, fmt.Errorf("%s: epoch: %w", family, err)
		}
		opts.Epoch = ts.UTC()
	}
	types := make([]PacketType, 0, len(doc.Types))
	for i, td := range doc.Types {
		if td.Discriminator < 0 || td.Discriminator > 0xFF {
			return nil, fmt.Errorf("types[%d]: discriminator out of range", i)
		}
		name := strings.TrimSpace(td.Name)
		if name == "" {
			return nil, fmt.Errorf("types[%d]: empty name", i)
		}
		pt := PacketType{Name: name, Discriminator: byte(td.Discriminator)}
		var err error
		if pt.Head, _, err = section(firstSection(td.Head, doc.Head)); err != nil {
			return nil, fmt.Errorf("types[%d] %s head: %w", i, name, err)
		}
		if pt.Date, pt.DateKind, err = section(firstSection(td.Date, doc.Date)); err != nil {
			return nil, fmt.Errorf("types[%d] %s date: %w", i, name, err)
		}
		if pt.Body, _, err = section(td.Body); err != nil {
			return nil, fmt.Errorf("types[%d] %s body: %w", i, name, err)
		}
		types = append(types, pt)
	}
	return NewTable(family, opts, types...)
}

func firstSection(a, b *SectionDocument) *SectionDocument {
	if a != nil {
		return a
	}
	return b
}

func section(doc *SectionDocument) (Section, DateKind, error) {
	if doc == nil {
		return Section{}, DateNone, nil
	}
	f, err := structs.Parse(doc.Format, doc.Names...)
	if err != nil {
		return Section{}, DateNone, err
	}
	sec := Section{Format: f, Len: f.Size()}
	if doc.Length != nil {
		sec.Len = *doc.Length
	}
	return sec, DateKind(strings.ToLower(strings.TrimSpace(doc.Kind))), nil
}
