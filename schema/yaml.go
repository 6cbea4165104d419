package schema

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/jacentio/grove/factory"
)

type document struct {
	Models []modelDoc `yaml:"models"`
}

type modelDoc struct {
	Name         string           `yaml:"name"`
	Table        string           `yaml:"table"`
	Associations []associationDoc `yaml:"associations"`
}

type associationDoc struct {
	Alias  string `yaml:"alias"`
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
}

// LoadFile reads a YAML schema file into a new Registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	r := NewRegistry()
	if err := r.LoadYAML(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// LoadYAML registers the models of a YAML schema document:
//
//	models:
//	  - name: post
//	    table: posts
//	    associations:
//	      - alias: author
//	        kind: one
//	        target: user
//
// An association without kind is to-one.
func (r *Registry) LoadYAML(data []byte) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	models := make([]Model, 0, len(doc.Models))
	for i, md := range doc.Models {
		if md.Name == "" {
			return fmt.Errorf("%w: model %d has no name", ErrInvalidSchema, i)
		}
		m := Model{Name: md.Name, Table: md.Table}
		for _, ad := range md.Associations {
			kind := factory.AssociationKind(ad.Kind)
			if kind == "" {
				kind = factory.One
			}
			if kind != factory.One && kind != factory.Many {
				return fmt.Errorf("%w: %s.%s has kind %q", ErrInvalidSchema, md.Name, ad.Alias, ad.Kind)
			}
			if ad.Alias == "" || ad.Target == "" {
				return fmt.Errorf("%w: %s has an association without alias or target", ErrInvalidSchema, md.Name)
			}
			m.Associations = append(m.Associations, factory.Association{
				Alias:  ad.Alias,
				Kind:   kind,
				Target: ad.Target,
			})
		}
		models = append(models, m)
	}

	for _, m := range models {
		r.Register(m)
	}
	return nil
}
