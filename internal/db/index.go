package db

import (
	"fmt"
	"strconv"
)

// FieldKind is the FT schema type of a hash field.
type FieldKind string

// Field kinds used by chunk indexes.
const (
	FieldText    FieldKind = "TEXT"
	FieldNumeric FieldKind = "NUMERIC"
	FieldVector  FieldKind = "VECTOR"
)

// DistanceCosine is the only metric chunk indexes use; scores are derived from it.
const DistanceCosine = "COSINE"

// Field is one schema entry. Dim, M and EFConstruct apply to vector fields only;
// zero M or EFConstruct leaves the server default.
type Field struct {
	Name        string
	Kind        FieldKind
	Dim         int
	M           int
	EFConstruct int
}

// IndexDefinition describes an FT index over hashes sharing a key prefix.
type IndexDefinition struct {
	Name   string
	Prefix string
	Fields []Field
}

// IndexBuilder assembles an IndexDefinition.
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts a definition for the index called name.
func NewIndex(name string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name}}
}

// Prefix limits the index to keys starting with p.
func (b *IndexBuilder) Prefix(p string) *IndexBuilder {
	b.def.Prefix = p
	return b
}

// Text adds a full-text field.
func (b *IndexBuilder) Text(name string) *IndexBuilder { return b.add(Field{Name: name, Kind: FieldText}) }

// Numeric adds a numeric field.
func (b *IndexBuilder) Numeric(name string) *IndexBuilder {
	return b.add(Field{Name: name, Kind: FieldNumeric})
}

// Vector adds a FLOAT32 HNSW field compared by cosine distance.
func (b *IndexBuilder) Vector(name string, dim, m, efConstruct int) *IndexBuilder {
	return b.add(Field{Name: name, Kind: FieldVector, Dim: dim, M: m, EFConstruct: efConstruct})
}

func (b *IndexBuilder) add(f Field) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, f)
	return b
}

// Build validates the definition and returns a copy the builder no longer shares.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.validate(); err != nil {
		return nil, err
	}
	def := b.def
	def.Fields = append([]Field(nil), b.def.Fields...)
	return &def, nil
}

func (d *IndexDefinition) validate() error {
	if !IsValidIdentifier(d.Name) {
		return fmt.Errorf("invalid index name %q", d.Name)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("index %s has no fields", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("index %s: unnamed field", d.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("index %s: duplicate field %s", d.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Kind == FieldVector && f.Dim <= 0 {
			return fmt.Errorf("index %s: vector field %s needs a positive dimension", d.Name, f.Name)
		}
	}
	return nil
}

// CreateArgs renders the FT.CREATE arguments that follow the command name.
func (d *IndexDefinition) CreateArgs() []string {
	args := []string{d.Name, "ON", "HASH"}
	if d.Prefix != "" {
		args = append(args, "PREFIX", "1", d.Prefix)
	}
	args = append(args, "SCHEMA")
	for _, f := range d.Fields {
		args = append(args, f.Name, string(f.Kind))
		if f.Kind != FieldVector {
			continue
		}
		attrs := []string{"TYPE", "FLOAT32", "DIM", strconv.Itoa(f.Dim), "DISTANCE_METRIC", DistanceCosine}
		if f.M > 0 {
			attrs = append(attrs, "M", strconv.Itoa(f.M))
		}
		if f.EFConstruct > 0 {
			attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.EFConstruct))
		}
		args = append(args, "HNSW", strconv.Itoa(len(attrs)))
		args = append(args, attrs...)
	}
	return args
}

// IsValidIdentifier reports whether s is non-empty and made of [a-zA-Z0-9_:-].
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == ':', r == '-':
		default:
			return false
		}
	}
	return true
}
