package templates

import (
	"sort"
	"strings"

	"github.com/timzifer/netprefs/prefs"
)

// Wildcard replaces a vendor qualified child type when composing a key.
const Wildcard = "*"

// Layered describes an interface chain, outermost layer first.
type Layered interface {
	LayerTypes() []string
	// TemplateOverrides returns the protocol overrides declared by the
	// lowest layer, or nil.
	TemplateOverrides(protocolType string) prefs.Entity
}

// Resolver looks up templates in a catalog.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a resolver over catalog. A nil catalog resolves nothing.
func NewResolver(catalog *Catalog) *Resolver {
	if catalog == nil {
		catalog = &Catalog{}
	}
	return &Resolver{catalog: catalog}
}

// Catalog returns the catalog the resolver reads from.
func (r *Resolver) Catalog() *Catalog {
	if r == nil {
		return nil
	}
	return r.catalog
}

// Key composes the catalog key for an interface type and optional child
// type. Child types containing a "." are vendor qualified and collapse to
// the wildcard.
func Key(interfaceType, childType string) string {
	if childType == "" {
		return interfaceType
	}
	if strings.Contains(childType, ".") {
		childType = Wildcard
	}
	return interfaceType + "-" + childType
}

// InterfaceTemplate returns a copy of the interface template, or nil if none
// or only an empty one is defined. A composite key never falls back to the
// bare interface type.
func (r *Resolver) InterfaceTemplate(interfaceType, childType string) prefs.Entity {
	if r == nil {
		return nil
	}
	tmpl := r.catalog.interfaces[Key(interfaceType, childType)]
	if len(tmpl) == 0 {
		return nil
	}
	return tmpl.Clone()
}

// ProtocolTemplate returns a copy of the protocol template, or nil if it is
// missing or empty.
func (r *Resolver) ProtocolTemplate(interfaceType, childType, protocolType string) prefs.Entity {
	if r == nil {
		return nil
	}
	tmpl := r.catalog.protocols[Key(interfaceType, childType)][protocolType]
	if len(tmpl) == 0 {
		return nil
	}
	return tmpl.Clone()
}

// ProtocolTypes lists the protocol types with a template for the interface,
// including ones whose template is empty.
func (r *Resolver) ProtocolTypes(interfaceType, childType string) []string {
	if r == nil {
		return nil
	}
	byType := r.catalog.protocols[Key(interfaceType, childType)]
	types := make([]string, 0, len(byType))
	for protocolType := range byType {
		types = append(types, protocolType)
	}
	sort.Strings(types)
	return types
}

// Overrides returns the catalog overrides for a protocol when layerType is
// the lowest layer of an interface chain.
func (r *Resolver) Overrides(layerType, protocolType string) prefs.Entity {
	if r == nil {
		return nil
	}
	overrides := r.catalog.overrides[layerType][protocolType]
	if len(overrides) == 0 {
		return nil
	}
	return overrides.Clone()
}

// ResolveProtocolConfig returns the protocol template for the chain with the
// lowest layer's overrides merged on top, key by key. The result is never
// nil.
func (r *Resolver) ResolveProtocolConfig(iface Layered, protocolType string) prefs.Entity {
	resolved := prefs.Entity{}
	if r == nil || iface == nil {
		return resolved
	}
	layers := iface.LayerTypes()
	if len(layers) == 0 {
		return resolved
	}
	child := ""
	if len(layers) > 1 {
		child = layers[1]
	}
	tmpl := r.ProtocolTemplate(layers[0], child, protocolType)
	if tmpl == nil {
		return resolved
	}
	resolved = tmpl
	lowest := layers[len(layers)-1]
	merge(resolved, r.Overrides(lowest, protocolType))
	merge(resolved, iface.TemplateOverrides(protocolType))
	return resolved
}

func merge(dst, overrides prefs.Entity) {
	for key, value := range overrides.Clone() {
		dst[key] = value
	}
}
