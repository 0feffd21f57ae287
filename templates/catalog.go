// Package templates provides the default configuration catalog for
// interfaces and protocols and resolves templates for layered interfaces.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/netprefs/prefs"
)

//go:embed catalog.yaml
var defaultCatalog []byte

//go:embed schema.cue
var catalogSchema string

// Catalog is an immutable set of interface templates, protocol templates
// and per layer protocol overrides.
type Catalog struct {
	interfaces map[string]prefs.Entity
	protocols  map[string]map[string]prefs.Entity
	overrides  map[string]map[string]prefs.Entity
}

type catalogFile struct {
	Interfaces map[string]map[string]any            `yaml:"interfaces"`
	Protocols  map[string]map[string]map[string]any `yaml:"protocols"`
	Overrides  map[string]map[string]map[string]any `yaml:"overrides"`
}

// DefaultCatalog returns the catalog shipped with the package.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return catalog, nil
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	catalog := &Catalog{
		interfaces: make(map[string]prefs.Entity, len(file.Interfaces)),
		protocols:  make(map[string]map[string]prefs.Entity, len(file.Protocols)),
		overrides:  make(map[string]map[string]prefs.Entity, len(file.Overrides)),
	}
	for key, tmpl := range file.Interfaces {
		entity, err := prefs.NewEntity(tmpl)
		if err != nil {
			return nil, fmt.Errorf("interface template %s: %w", key, err)
		}
		catalog.interfaces[key] = entity
	}
	if err := decodeNested(file.Protocols, catalog.protocols); err != nil {
		return nil, fmt.Errorf("protocol template %w", err)
	}
	if err := decodeNested(file.Overrides, catalog.overrides); err != nil {
		return nil, fmt.Errorf("override %w", err)
	}
	return catalog, nil
}

func decodeNested(src map[string]map[string]map[string]any, dst map[string]map[string]prefs.Entity) error {
	for key, byType := range src {
		entries := make(map[string]prefs.Entity, len(byType))
		for protocolType, tmpl := range byType {
			entity, err := prefs.NewEntity(tmpl)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", key, protocolType, err)
			}
			entries[protocolType] = entity
		}
		dst[key] = entries
	}
	return nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(catalogSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}
	definition := schema.LookupPath(cue.ParsePath("#Catalog"))
	if err := definition.Err(); err != nil {
		return fmt.Errorf("lookup catalog schema: %w", err)
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := definition.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate catalog: %w", err)
	}
	return nil
}

// InterfaceKeys lists the interface template keys.
func (c *Catalog) InterfaceKeys() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.interfaces)
}

// ProtocolKeys lists the keys that carry protocol templates.
func (c *Catalog) ProtocolKeys() []string {
	if c == nil {
		return nil
	}
	return sortedKeys(c.protocols)
}

// ProtocolTypes lists every protocol type named anywhere in the catalog.
func (c *Catalog) ProtocolTypes() []string {
	if c == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, byType := range c.protocols {
		for protocolType := range byType {
			seen[protocolType] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
