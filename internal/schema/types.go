// Package schema declares the backend tables refgrid can edit: their field
// order, the role each field plays in reconciliation and the kind of value
// each field carries on the wire.
//
// Schemas are static configuration. They are registered at init time (see
// package tables) and never mutated afterwards.
package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Role classifies how a field takes part in reconciliation.
type Role int

const (
	RoleKey         Role = iota // Identifies the row
	RoleAlpha                   // Compared as trimmed text
	RoleNumeric                 // Compared as a number within a tolerance
	RolePassthrough             // Not compared; imported value wins
)

// ReservedParams are query parameters the gateway sets on every call. A
// filter may not use one of these names.
var ReservedParams = []string{"op", "table", "client"}

var roleNames = map[Role]string{
	RoleKey:         "key",
	RoleAlpha:       "alpha",
	RoleNumeric:     "numeric",
	RolePassthrough: "passthrough",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole converts a role name to a Role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown field role %q", s)
}

// Kind selects the serializer used when a field is encoded.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindDate  // Day precision, YYYYMMDD on the wire
	KindMonth // Month precision, YYYYMM on the wire
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindNumber: "number",
	KindDate:   "date",
	KindMonth:  "month",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// Field declares one column of a backend table.
type Field struct {
	Name     string
	Role     Role
	Kind     Kind
	Required bool // Must be non-blank on create/change; key fields always are
}

// TableSchema is the immutable declaration of one backend table.
// Build one with New; the zero value is not usable.
type TableSchema struct {
	Name         string   // Backend table name, e.g. "HOLDINGS"
	Label        string   // Display name
	Group        string   // Dashboard menu group
	FilterParams []string // Declared retrieval predicates, in order

	fields      []Field
	byName      map[string]int
	order       []string
	keys        []string
	alpha       []string
	numeric     []string
	passthrough []string
}

// New validates a table declaration and derives its field lists.
func New(name string, fields []Field, filterParams ...string) (*TableSchema, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("schema: table name is required")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema %s: no fields declared", name)
	}

	s := &TableSchema{
		Name:   name,
		Label:  name,
		fields: slices.Clone(fields),
		byName: make(map[string]int, len(fields)),
	}

	for i, f := range s.fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("schema %s: field %d has no name", name, i)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field %s", name, f.Name)
		}
		if _, ok := roleNames[f.Role]; !ok {
			return nil, fmt.Errorf("schema %s: field %s has invalid role %v", name, f.Name, f.Role)
		}
		if _, ok := kindNames[f.Kind]; !ok {
			return nil, fmt.Errorf("schema %s: field %s has invalid kind %v", name, f.Name, f.Kind)
		}
		if f.Role == RoleNumeric && f.Kind != KindNumber {
			return nil, fmt.Errorf("schema %s: numeric field %s must be of kind number", name, f.Name)
		}
		s.byName[f.Name] = i
		s.order = append(s.order, f.Name)

		switch f.Role {
		case RoleKey:
			s.keys = append(s.keys, f.Name)
		case RoleAlpha:
			s.alpha = append(s.alpha, f.Name)
		case RoleNumeric:
			s.numeric = append(s.numeric, f.Name)
		case RolePassthrough:
			s.passthrough = append(s.passthrough, f.Name)
		}
	}

	if len(s.keys) == 0 {
		return nil, fmt.Errorf("schema %s: at least one key field is required", name)
	}

	seen := make(map[string]bool, len(filterParams))
	for _, p := range filterParams {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("schema %s: empty filter parameter", name)
		}
		if seen[p] {
			return nil, fmt.Errorf("schema %s: duplicate filter parameter %s", name, p)
		}
		if slices.ContainsFunc(ReservedParams, func(r string) bool { return strings.EqualFold(r, p) }) {
			return nil, fmt.Errorf("schema %s: filter parameter %s is reserved by the gateway", name, p)
		}
		seen[p] = true
		s.FilterParams = append(s.FilterParams, p)
	}

	return s, nil
}

// MustNew is like New but panics on an invalid declaration.
func MustNew(name string, fields []Field, filterParams ...string) *TableSchema {
	s, err := New(name, fields, filterParams...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the declared fields in wire order.
func (s *TableSchema) Fields() []Field { return slices.Clone(s.fields) }

// FieldOrder returns field names in the order the backend expects them.
func (s *TableSchema) FieldOrder() []string { return slices.Clone(s.order) }

// KeyFields returns key field names in schema order.
func (s *TableSchema) KeyFields() []string { return slices.Clone(s.keys) }

// AlphaFields returns alpha field names in schema order.
func (s *TableSchema) AlphaFields() []string { return slices.Clone(s.alpha) }

// NumericFields returns numeric field names in schema order.
func (s *TableSchema) NumericFields() []string { return slices.Clone(s.numeric) }

// PassthroughFields returns passthrough field names in schema order.
func (s *TableSchema) PassthroughFields() []string { return slices.Clone(s.passthrough) }

// Field looks up a field declaration by exact name.
func (s *TableSchema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Lookup finds a field case-insensitively, for matching spreadsheet headers.
func (s *TableSchema) Lookup(name string) (Field, bool) {
	if f, ok := s.Field(name); ok {
		return f, true
	}
	name = strings.TrimSpace(name)
	for _, f := range s.fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// RoleOf returns the role of a field. Undeclared fields are passthrough.
func (s *TableSchema) RoleOf(name string) Role {
	if f, ok := s.Field(name); ok {
		return f.Role
	}
	return RolePassthrough
}

// IsKey reports whether name is one of the key fields.
func (s *TableSchema) IsKey(name string) bool {
	return s.RoleOf(name) == RoleKey
}
