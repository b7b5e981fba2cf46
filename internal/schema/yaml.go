package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlDoc is the on-disk layout of a schema file:
//
//	tables:
//	  - name: HOLDINGS
//	    label: Holdings
//	    group: Portfolio
//	    filters: [ACCT, AS_OF]
//	    fields:
//	      - {name: ACCT, role: key}
//	      - {name: QTY, role: numeric}
//	      - {name: PRICE_DATE, role: passthrough, kind: date}
type yamlDoc struct {
	Tables []yamlTable `yaml:"tables"`
}

type yamlTable struct {
	Name    string      `yaml:"name"`
	Label   string      `yaml:"label"`
	Group   string      `yaml:"group"`
	Filters []string    `yaml:"filters"`
	Fields  []yamlField `yaml:"fields"`
}

type yamlField struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Kind     string `yaml:"kind"`
	Required bool   `yaml:"required"`
}

// ParseYAML decodes table declarations. Kind defaults to number for numeric
// fields and string otherwise.
func ParseYAML(r io.Reader) ([]*TableSchema, error) {
	var doc yamlDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode schema yaml: %w", err)
	}

	out := make([]*TableSchema, 0, len(doc.Tables))
	for _, t := range doc.Tables {
		fields := make([]Field, 0, len(t.Fields))
		for _, yf := range t.Fields {
			role, err := ParseRole(yf.Role)
			if err != nil {
				return nil, fmt.Errorf("table %s field %s: %w", t.Name, yf.Name, err)
			}

			kind := KindString
			if role == RoleNumeric {
				kind = KindNumber
			}
			if yf.Kind != "" {
				if kind, err = ParseKind(yf.Kind); err != nil {
					return nil, fmt.Errorf("table %s field %s: %w", t.Name, yf.Name, err)
				}
			}

			fields = append(fields, Field{Name: yf.Name, Role: role, Kind: kind, Required: yf.Required})
		}

		s, err := New(t.Name, fields, t.Filters...)
		if err != nil {
			return nil, err
		}
		if t.Label != "" {
			s.Label = t.Label
		}
		s.Group = t.Group
		out = append(out, s)
	}
	return out, nil
}

// LoadYAML parses declarations from r and registers each table.
func (r *Registry) LoadYAML(src io.Reader) (int, error) {
	schemas, err := ParseYAML(src)
	if err != nil {
		return 0, err
	}
	for _, s := range schemas {
		if _, err := r.Get(s.Name); err == nil {
			return 0, fmt.Errorf("table already registered: %s", s.Name)
		}
	}
	for _, s := range schemas {
		r.Register(s)
	}
	return len(schemas), nil
}

// LoadYAMLFile registers the tables declared in a file.
func (r *Registry) LoadYAMLFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()
	return r.LoadYAML(f)
}
