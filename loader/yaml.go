package loader

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/jacentio/grove/factory"
)

type yamlDocument struct {
	Blueprints []yamlBlueprint `yaml:"blueprints"`
}

type yamlBlueprint struct {
	Name       string          `yaml:"name"`
	Model      string          `yaml:"model"`
	Parent     string          `yaml:"parent"`
	Attributes []yamlAttribute `yaml:"attributes"`
}

type yamlAttribute struct {
	Name          string `yaml:"name"`
	Value         any    `yaml:"value"`
	Association   bool   `yaml:"association"`
	AutoIncrement any    `yaml:"auto_increment"`
}

// loadYAML defines the blueprints of a YAML document. The parent is applied
// before the attributes.
func loadYAML(reg *factory.Registry, hint string, src []byte) ([]*factory.Blueprint, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	defined := make([]*factory.Blueprint, 0, len(doc.Blueprints))
	for _, def := range doc.Blueprints {
		opts := []factory.DefineOption{factory.DefaultModel(hint)}
		if def.Model != "" {
			opts = append(opts, factory.Model(def.Model))
		}

		bp := reg.Define(def.Name, opts...)
		defined = append(defined, bp)
		if def.Parent != "" {
			bp.Parent(def.Parent)
		}
		for _, attr := range def.Attributes {
			bp.Attr(attr.Name, normalize(attr.Value), factory.Options(map[string]any{
				"association":    attr.Association,
				"auto_increment": normalize(attr.AutoIncrement),
			}))
		}
	}
	return defined, nil
}
