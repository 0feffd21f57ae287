package network

import (
	"errors"
	"fmt"
	"sort"

	"github.com/timzifer/netprefs/prefs"
)

// Service binds one interface to a set of protocols.
type Service struct {
	model *Model
	id    string
	iface *Interface
}

func errUnbound(op string) error {
	return fmt.Errorf("%s: unbound handle: %w", op, prefs.ErrInvalidArgument)
}

func (s *Service) bound() bool {
	return s != nil && s.model.bound()
}

// ID returns the service identifier.
func (s *Service) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Interface returns the interface the service was loaded with.
func (s *Service) Interface() *Interface {
	if s == nil {
		return nil
	}
	return s.iface
}

// Exists reports whether the service still has a non-empty interface entity.
func (s *Service) Exists() bool {
	if !s.bound() {
		return false
	}
	return s.model.store.Configuration(serviceEntityPath(s.id, EntityInterface)) != nil
}

func (s *Service) root() (map[string]any, error) {
	raw, err := s.model.store.PathValue(servicePath(s.id))
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("service %s: %w", s.id, prefs.ErrInvalidArgument)
	}
	return m, nil
}

// Name returns the service display name, falling back to the interface name.
func (s *Service) Name() string {
	if !s.bound() {
		return ""
	}
	if root, err := s.root(); err == nil {
		if name := prefs.Entity(root).String(KeyUserDefinedName); name != "" {
			return name
		}
	}
	if s.iface != nil {
		return s.iface.UserDefinedName()
	}
	return ""
}

// SetName stores the service display name. An empty name clears it.
func (s *Service) SetName(name string) error {
	if !s.bound() {
		return errUnbound("set service name")
	}
	root, err := s.root()
	if err != nil {
		return err
	}
	if name == "" {
		delete(root, KeyUserDefinedName)
	} else {
		root[KeyUserDefinedName] = name
	}
	return s.model.store.SetPathValue(servicePath(s.id), root)
}

// Enabled reports whether the service is enabled.
func (s *Service) Enabled() bool {
	if !s.bound() {
		return false
	}
	return s.model.store.Enabled(servicePath(s.id))
}

// SetEnabled marks the service enabled or disabled. Disabling keeps all
// configuration so enabling again restores it.
func (s *Service) SetEnabled(enabled bool) error {
	if !s.bound() {
		return errUnbound("enable service")
	}
	return s.model.store.SetEnabled(servicePath(s.id), enabled)
}

func (s *Service) hasEntity(entity string) bool {
	raw, err := s.model.store.PathValue(serviceEntityPath(s.id, entity))
	if err != nil {
		return false
	}
	_, ok := raw.(map[string]any)
	return ok
}

// Protocols returns the protocols attached to the service, sorted by type.
func (s *Service) Protocols() []*Protocol {
	if !s.bound() {
		return nil
	}
	var protocols []*Protocol
	for _, key := range s.model.store.Keys(servicePath(s.id)) {
		if !s.model.IsProtocolType(key) || !s.hasEntity(key) {
			continue
		}
		protocols = append(protocols, &Protocol{service: s, protocolType: key})
	}
	return protocols
}

// Protocol returns the protocol of the given type.
func (s *Service) Protocol(protocolType string) (*Protocol, error) {
	if !s.bound() {
		return nil, errUnbound("protocol")
	}
	if !s.model.IsProtocolType(protocolType) {
		return nil, fmt.Errorf("protocol type %q: %w", protocolType, prefs.ErrInvalidArgument)
	}
	if !s.hasEntity(protocolType) {
		return nil, fmt.Errorf("protocol %s on service %s: %w", protocolType, s.id, prefs.ErrNoSuchKey)
	}
	return &Protocol{service: s, protocolType: protocolType}, nil
}

// AddProtocolType attaches a protocol initialised from its template.
func (s *Service) AddProtocolType(protocolType string) (*Protocol, error) {
	if !s.bound() {
		return nil, errUnbound("add protocol")
	}
	if !s.model.IsProtocolType(protocolType) {
		return nil, fmt.Errorf("protocol type %q: %w", protocolType, prefs.ErrInvalidArgument)
	}
	if s.hasEntity(protocolType) {
		return nil, fmt.Errorf("protocol %s on service %s: %w", protocolType, s.id, prefs.ErrKeyExists)
	}
	config := s.ProtocolTemplate(protocolType)
	if err := s.model.store.SetConfiguration(serviceEntityPath(s.id, protocolType), config, true); err != nil {
		return nil, err
	}
	return &Protocol{service: s, protocolType: protocolType}, nil
}

// RemoveProtocolType detaches a protocol.
func (s *Service) RemoveProtocolType(protocolType string) error {
	if !s.bound() {
		return errUnbound("remove protocol")
	}
	if !s.hasEntity(protocolType) {
		return fmt.Errorf("protocol %s on service %s: %w", protocolType, s.id, prefs.ErrNoSuchKey)
	}
	return s.model.store.RemoveConfiguration(serviceEntityPath(s.id, protocolType))
}

// ProtocolTemplate returns the default configuration of a protocol for this
// service's interface. It is never nil.
func (s *Service) ProtocolTemplate(protocolType string) prefs.Entity {
	if !s.bound() || s.iface == nil {
		return prefs.Entity{}
	}
	return s.model.resolver.ResolveProtocolConfig(s.iface, protocolType)
}

// LayerConfiguration returns the configuration of one interface layer.
func (s *Service) LayerConfiguration(layer int) prefs.Entity {
	entity, err := s.layerEntity(layer)
	if err != nil {
		return nil
	}
	return s.model.store.Configuration(serviceEntityPath(s.id, entity))
}

// SetLayerConfiguration replaces the configuration of one interface layer.
// A nil config removes it. A disabled entity keeps its inactive marker.
func (s *Service) SetLayerConfiguration(layer int, config prefs.Entity) error {
	entity, err := s.layerEntity(layer)
	if err != nil {
		return err
	}
	return s.model.store.SetConfiguration(serviceEntityPath(s.id, entity), config, true)
}

func (s *Service) layerEntity(layer int) (string, error) {
	if !s.bound() || s.iface == nil {
		return "", errUnbound("layer configuration")
	}
	if layer < 0 || layer >= len(s.iface.layers) {
		return "", fmt.Errorf("layer %d of %s: %w", layer, s.iface, prefs.ErrInvalidArgument)
	}
	entity := s.iface.layers[layer].Entity
	if entity == "" {
		return "", fmt.Errorf("layer %s has no configuration: %w", s.iface.layers[layer].Type, prefs.ErrInvalidArgument)
	}
	return entity, nil
}

// ExtendedConfiguration returns an auxiliary entity such as EAPOL.
func (s *Service) ExtendedConfiguration(entityType string) prefs.Entity {
	if err := s.checkExtended(entityType); err != nil {
		return nil
	}
	return s.model.store.Configuration(serviceEntityPath(s.id, entityType))
}

// SetExtendedConfiguration replaces an auxiliary entity. A nil config
// removes it. A disabled entity keeps its inactive marker.
func (s *Service) SetExtendedConfiguration(entityType string, config prefs.Entity) error {
	if err := s.checkExtended(entityType); err != nil {
		return err
	}
	return s.model.store.SetConfiguration(serviceEntityPath(s.id, entityType), config, true)
}

func (s *Service) checkExtended(entityType string) error {
	if !s.bound() {
		return errUnbound("extended configuration")
	}
	if err := validID(entityType); err != nil {
		return err
	}
	if entityType == EntityInterface || s.model.IsProtocolType(entityType) {
		return fmt.Errorf("entity %s is not an extended type: %w", entityType, prefs.ErrInvalidArgument)
	}
	return nil
}

// EstablishDefaultConfiguration fills in template configuration for every
// interface layer without one and attaches each templated protocol that is
// missing.
func (s *Service) EstablishDefaultConfiguration() error {
	if !s.bound() || s.iface == nil {
		return errUnbound("establish defaults")
	}
	layers := s.iface.layers
	for i, layer := range layers {
		if layer.Entity == "" || s.LayerConfiguration(i) != nil {
			continue
		}
		child := ""
		if i+1 < len(layers) {
			child = layers[i+1].Type
		}
		tmpl := s.model.resolver.InterfaceTemplate(layer.Type, child)
		if tmpl == nil {
			continue
		}
		if err := s.SetLayerConfiguration(i, tmpl); err != nil {
			return fmt.Errorf("layer %s defaults: %w", layer.Type, err)
		}
	}

	child := ""
	if len(layers) > 1 {
		child = layers[1].Type
	}
	for _, protocolType := range s.model.resolver.ProtocolTypes(layers[0].Type, child) {
		if s.hasEntity(protocolType) {
			continue
		}
		if _, err := s.AddProtocolType(protocolType); err != nil {
			return fmt.Errorf("protocol %s defaults: %w", protocolType, err)
		}
	}
	return nil
}

// Sets returns the sets this service is a member of.
func (s *Service) Sets() []*Set {
	if !s.bound() {
		return nil
	}
	var sets []*Set
	for _, set := range s.model.Sets() {
		if set.contains(s.id) {
			sets = append(sets, set)
		}
	}
	return sets
}

// Remove deletes the service from every set and from the document.
func (s *Service) Remove() error {
	if !s.bound() {
		return errUnbound("remove service")
	}
	for _, set := range s.Sets() {
		if err := set.RemoveService(s); err != nil && !errors.Is(err, prefs.ErrNoSuchKey) {
			return err
		}
	}
	return s.model.store.RemoveConfiguration(servicePath(s.id))
}

// SetServiceID renames the service. Every set's member link and service
// order follow the new identifier.
func (s *Service) SetServiceID(newID string) error {
	if !s.bound() {
		return errUnbound("set service id")
	}
	if err := validID(newID); err != nil {
		return err
	}
	if newID == s.id {
		return nil
	}
	if _, err := s.model.store.PathValue(servicePath(newID)); err == nil {
		return fmt.Errorf("service %s: %w", newID, prefs.ErrKeyExists)
	}
	root, err := s.root()
	if err != nil {
		return err
	}
	sets := s.Sets()
	if err := s.model.store.SetPathValue(servicePath(newID), root); err != nil {
		return err
	}
	for _, set := range sets {
		if err := s.model.ReplaceServiceID(set, s.id, newID); err != nil {
			return err
		}
	}
	if err := s.model.store.RemovePathValue(servicePath(s.id)); err != nil && !errors.Is(err, prefs.ErrNoSuchKey) {
		return err
	}
	s.model.logger.Debug().Str("service", s.id).Str("new_id", newID).Msg("service renamed")
	s.id = newID
	return nil
}

func sortServices(services []*Service) {
	sort.Slice(services, func(i, j int) bool { return services[i].id < services[j].id })
}
