package classifier

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Name is a bilingual display name
type Name struct {
	En string `yaml:"en" json:"en"`
	Ar string `yaml:"ar" json:"ar"`
}

// LayoutPattern is an expected (region type, position) pair
type LayoutPattern struct {
	Type     string  `yaml:"type" json:"type"`
	Position string  `yaml:"position" json:"position"`
	Weight   float64 `yaml:"weight" json:"weight"`
}

// StructurePattern is an expected structural element and its typical count
type StructurePattern struct {
	Type   string  `yaml:"type" json:"type"`
	Count  int     `yaml:"count" json:"count"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Patterns are the signals a document type is scored against
type Patterns struct {
	Keywords   []string           `yaml:"keywords" json:"keywords"`
	KeywordsAr []string           `yaml:"keywordsAr" json:"keywordsAr"`
	Layout     []LayoutPattern    `yaml:"layout" json:"layout"`
	Structure  []StructurePattern `yaml:"structure" json:"structure"`
}

// TypeMetadata describes the physical document
type TypeMetadata struct {
	IsHandwritten bool   `yaml:"isHandwritten" json:"isHandwritten"`
	Language      string `yaml:"language" json:"language"` // arabic, english or bilingual
	Formality     string `yaml:"formality" json:"formality"`
	Orientation   string `yaml:"orientation" json:"orientation"`
}

// DocumentType is one catalog entry
type DocumentType struct {
	ID       string       `yaml:"id" json:"id"`
	Name     Name         `yaml:"name" json:"name"`
	Category string       `yaml:"category" json:"category"`
	Patterns Patterns     `yaml:"patterns" json:"patterns"`
	Metadata TypeMetadata `yaml:"metadata" json:"metadata"`
}

func (d DocumentType) clone() DocumentType {
	d.Patterns.Keywords = append([]string(nil), d.Patterns.Keywords...)
	d.Patterns.KeywordsAr = append([]string(nil), d.Patterns.KeywordsAr...)
	d.Patterns.Layout = append([]LayoutPattern(nil), d.Patterns.Layout...)
	d.Patterns.Structure = append([]StructurePattern(nil), d.Patterns.Structure...)
	return d
}

// Catalog is an immutable, ordered set of document types. Catalog order
// breaks score ties.
type Catalog struct {
	types []DocumentType
	index map[string]int
}

type catalogFile struct {
	Types []DocumentType `yaml:"types"`
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Types) == 0 {
		return nil, fmt.Errorf("catalog defines no document types")
	}

	c := &Catalog{
		types: file.Types,
		index: make(map[string]int, len(file.Types)),
	}
	for i, t := range file.Types {
		if t.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := c.index[t.ID]; dup {
			return nil, fmt.Errorf("duplicate document type %q", t.ID)
		}
		for _, p := range t.Patterns.Layout {
			if p.Weight < 0 || p.Weight > 1 {
				return nil, fmt.Errorf("%s: layout weight %v out of range", t.ID, p.Weight)
			}
		}
		for _, p := range t.Patterns.Structure {
			if p.Weight < 0 || p.Weight > 1 {
				return nil, fmt.Errorf("%s: structure weight %v out of range", t.ID, p.Weight)
			}
		}
		c.index[t.ID] = i
	}
	return c, nil
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the embedded catalog, decoded on first use
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := ParseCatalog(builtinCatalog)
		if err != nil {
			panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Types returns a copy of the catalog entries in order
func (c *Catalog) Types() []DocumentType {
	out := make([]DocumentType, len(c.types))
	for i, t := range c.types {
		out[i] = t.clone()
	}
	return out
}

// Lookup finds a type by id
func (c *Catalog) Lookup(id string) (DocumentType, bool) {
	i, ok := c.index[id]
	if !ok {
		return DocumentType{}, false
	}
	return c.types[i].clone(), true
}

// Len is the number of types
func (c *Catalog) Len() int {
	return len(c.types)
}
