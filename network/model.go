package network

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/internal/logging"
	"github.com/timzifer/netprefs/prefs"
	"github.com/timzifer/netprefs/templates"
)

// Option configures a Model.
type Option func(*settings) error

type settings struct {
	resolver *templates.Resolver
	kernel   Kernel
	logger   zerolog.Logger
}

// WithResolver sets the template resolver. The embedded default catalog is
// used otherwise.
func WithResolver(resolver *templates.Resolver) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.resolver = resolver
		return nil
	}
}

// WithKernel sets the hook that creates and destroys virtual interfaces.
func WithKernel(kernel Kernel) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.kernel = kernel
		return nil
	}
}

// WithLogger provides a logger for model events.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// Model interprets a document as network services and sets.
type Model struct {
	store         *prefs.Store
	resolver      *templates.Resolver
	kernel        Kernel
	logger        zerolog.Logger
	protocolTypes map[string]struct{}
}

// NewModel binds a model to store.
func NewModel(store *prefs.Store, opts ...Option) (*Model, error) {
	if store == nil {
		return nil, errUnbound("new model")
	}
	cfg := settings{logger: zerolog.Nop(), kernel: NoopKernel{}}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.resolver == nil {
		catalog, err := templates.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("load default catalog: %w", err)
		}
		cfg.resolver = templates.NewResolver(catalog)
	}
	if cfg.kernel == nil {
		cfg.kernel = NoopKernel{}
	}
	m := &Model{
		store:         store,
		resolver:      cfg.resolver,
		kernel:        cfg.kernel,
		logger:        logging.Component(cfg.logger, "network"),
		protocolTypes: map[string]struct{}{},
	}
	for _, t := range baseProtocolTypes {
		m.protocolTypes[t] = struct{}{}
	}
	for _, t := range cfg.resolver.Catalog().ProtocolTypes() {
		m.protocolTypes[t] = struct{}{}
	}
	return m, nil
}

func (m *Model) bound() bool {
	return m != nil && m.store != nil
}

// Store returns the underlying document store.
func (m *Model) Store() *prefs.Store {
	if m == nil {
		return nil
	}
	return m.store
}

// Resolver returns the template resolver.
func (m *Model) Resolver() *templates.Resolver {
	if m == nil {
		return nil
	}
	return m.resolver
}

// IsProtocolType reports whether t names a protocol entity.
func (m *Model) IsProtocolType(t string) bool {
	if m == nil {
		return false
	}
	_, ok := m.protocolTypes[t]
	return ok
}

// Service loads the service with the given identifier.
func (m *Model) Service(id string) (*Service, error) {
	if !m.bound() {
		return nil, errUnbound("service")
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	entity := m.store.Configuration(serviceEntityPath(id, EntityInterface))
	if entity == nil {
		return nil, fmt.Errorf("service %s: %w", id, prefs.ErrNoSuchKey)
	}
	iface, err := NewInterface(entity)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", id, err)
	}
	return &Service{model: m, id: id, iface: iface}, nil
}

// Services returns every existing service sorted by identifier.
func (m *Model) Services() []*Service {
	if !m.bound() {
		return nil
	}
	var services []*Service
	for _, id := range m.store.Keys(prefs.Path(SectionServices)) {
		service, err := m.Service(id)
		if err != nil {
			continue
		}
		services = append(services, service)
	}
	return services
}

// EnabledServices returns the enabled services reachable from any set, in
// set enumeration order. A service in several sets is listed once.
func (m *Model) EnabledServices() []*Service {
	if !m.bound() {
		return nil
	}
	var services []*Service
	seen := map[string]struct{}{}
	for _, set := range m.Sets() {
		for _, service := range set.Services() {
			if !service.Enabled() {
				continue
			}
			if _, dup := seen[service.id]; dup {
				continue
			}
			seen[service.id] = struct{}{}
			services = append(services, service)
		}
	}
	return services
}

// Interfaces returns the distinct interfaces used by services, or nil when
// there are none.
func (m *Model) Interfaces() []*Interface {
	if !m.bound() {
		return nil
	}
	var interfaces []*Interface
	seen := map[string]struct{}{}
	for _, service := range m.Services() {
		iface := service.Interface()
		if iface == nil || iface.Type() == "" {
			continue
		}
		if _, dup := seen[iface.Key()]; dup {
			continue
		}
		seen[iface.Key()] = struct{}{}
		interfaces = append(interfaces, iface)
	}
	if len(interfaces) == 0 {
		return nil
	}
	return interfaces
}

// CreateService creates a service with a new random identifier.
func (m *Model) CreateService(iface *Interface) (*Service, error) {
	return m.CreateServiceWithID(strings.ToUpper(uuid.NewString()), iface)
}

// CreateServiceWithID creates a service bound to iface. The service is not
// added to any set.
func (m *Model) CreateServiceWithID(id string, iface *Interface) (*Service, error) {
	if !m.bound() {
		return nil, errUnbound("create service")
	}
	if iface == nil {
		return nil, fmt.Errorf("create service: no interface: %w", prefs.ErrInvalidArgument)
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	if _, err := m.store.PathValue(servicePath(id)); err == nil {
		return nil, fmt.Errorf("service %s: %w", id, prefs.ErrKeyExists)
	}
	if err := m.store.SetConfiguration(serviceEntityPath(id, EntityInterface), iface.Entity(), false); err != nil {
		return nil, err
	}
	m.logger.Debug().Str("service", id).Stringer("interface", iface).Msg("service created")
	return &Service{model: m, id: id, iface: iface}, nil
}

// Sets returns every set sorted by identifier.
func (m *Model) Sets() []*Set {
	if !m.bound() {
		return nil
	}
	var sets []*Set
	for _, id := range m.store.Keys(prefs.Path(SectionSets)) {
		set := &Set{model: m, id: id}
		if set.Exists() {
			sets = append(sets, set)
		}
	}
	return sets
}

// Set loads the set with the given identifier.
func (m *Model) Set(id string) (*Set, error) {
	if !m.bound() {
		return nil, errUnbound("set")
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	set := &Set{model: m, id: id}
	if !set.Exists() {
		return nil, fmt.Errorf("set %s: %w", id, prefs.ErrNoSuchKey)
	}
	return set, nil
}

// CreateSet creates a set with a new random identifier.
func (m *Model) CreateSet(name string) (*Set, error) {
	return m.CreateSetWithID(strings.ToUpper(uuid.NewString()), name)
}

// CreateSetWithID creates an empty set.
func (m *Model) CreateSetWithID(id, name string) (*Set, error) {
	if !m.bound() {
		return nil, errUnbound("create set")
	}
	if err := validID(id); err != nil {
		return nil, err
	}
	if _, err := m.store.PathValue(setPath(id)); err == nil {
		return nil, fmt.Errorf("set %s: %w", id, prefs.ErrKeyExists)
	}
	entity := map[string]any{}
	if name != "" {
		entity[KeyUserDefinedName] = name
	}
	if err := m.store.SetPathValue(setPath(id), entity); err != nil {
		return nil, err
	}
	return &Set{model: m, id: id}, nil
}

// CurrentSet returns the set marked as current.
func (m *Model) CurrentSet() (*Set, error) {
	if !m.bound() {
		return nil, errUnbound("current set")
	}
	raw, ok := m.store.Value(KeyCurrentSet)
	if !ok {
		return nil, fmt.Errorf("current set: %w", prefs.ErrNoSuchKey)
	}
	path, _ := raw.(string)
	prefix := prefs.Path(SectionSets) + "/"
	if !strings.HasPrefix(path, prefix) {
		return nil, fmt.Errorf("current set %q: %w", path, prefs.ErrInvalidArgument)
	}
	return m.Set(strings.TrimPrefix(path, prefix))
}

// SetCurrentSet marks set as current.
func (m *Model) SetCurrentSet(set *Set) error {
	if !m.bound() || !set.bound() {
		return errUnbound("set current set")
	}
	if !set.Exists() {
		return fmt.Errorf("set %s: %w", set.id, prefs.ErrNoSuchKey)
	}
	return m.store.SetValue(KeyCurrentSet, setPath(set.id))
}

// ReplaceServiceID rewrites oldID to newID in the set's service order and
// moves the set's member link to the new service path. Nothing changes when
// the set does not link oldID or when newID names no service.
func (m *Model) ReplaceServiceID(set *Set, oldID, newID string) error {
	if !m.bound() || !set.bound() {
		return errUnbound("replace service id")
	}
	if err := validID(newID); err != nil {
		return err
	}
	if !set.contains(oldID) {
		return nil
	}
	target, err := m.store.PathValue(servicePath(newID))
	if err != nil {
		return fmt.Errorf("replace service id %s: %w", newID, err)
	}
	if _, ok := target.(map[string]any); !ok {
		return fmt.Errorf("replace service id %s: %w", newID, prefs.ErrNoSuchKey)
	}
	order := set.ServiceOrder()
	if slices.Contains(order, oldID) {
		replaced := make([]string, 0, len(order))
		for _, id := range order {
			if id == oldID {
				id = newID
			}
			if !slices.Contains(replaced, id) {
				replaced = append(replaced, id)
			}
		}
		if err := set.SetServiceOrder(replaced); err != nil {
			return err
		}
	}
	if err := m.store.RemovePathValue(setServicePath(set.id, oldID)); err != nil && !errors.Is(err, prefs.ErrNoSuchKey) {
		return err
	}
	return m.store.SetPathLink(setServicePath(set.id, newID), servicePath(newID))
}

// CopyInterfaceConfiguration copies the configuration of every interface
// layer of src to the matching layer of dst, outermost first, stopping
// quietly where dst has fewer layers. Extended entities present on src are
// copied as well.
func (m *Model) CopyInterfaceConfiguration(src, dst *Service) error {
	if !m.bound() || !src.bound() || !dst.bound() || src.iface == nil || dst.iface == nil {
		return errUnbound("copy interface configuration")
	}
	srcLayers := src.iface.layers
	dstLayers := dst.iface.layers
	for i, layer := range srcLayers {
		if i >= len(dstLayers) {
			m.logger.Debug().Str("service", dst.id).Int("layer", i).Msg("interface layering does not match")
			break
		}
		if layer.Entity == "" || dstLayers[i].Entity == "" {
			continue
		}
		config := src.LayerConfiguration(i)
		if config == nil && dst.LayerConfiguration(i) == nil {
			continue
		}
		if err := dst.SetLayerConfiguration(i, config); err != nil {
			return fmt.Errorf("copy %s configuration: %w", layer.Type, err)
		}
	}
	for _, entityType := range ExtendedTypes {
		config := src.ExtendedConfiguration(entityType)
		if config == nil {
			continue
		}
		if err := dst.SetExtendedConfiguration(entityType, config); err != nil {
			return fmt.Errorf("copy %s configuration: %w", entityType, err)
		}
	}
	return nil
}

// Orphans returns the services that are not a member of any set.
func (m *Model) Orphans() []*Service {
	if !m.bound() {
		return nil
	}
	var orphans []*Service
	for _, service := range m.Services() {
		if len(service.Sets()) == 0 {
			orphans = append(orphans, service)
		}
	}
	return orphans
}

// LogConfiguration writes a summary of sets, their ordered services and
// orphaned services.
func (m *Model) LogConfiguration(level zerolog.Level, description string) {
	if !m.bound() {
		return
	}
	model, _ := m.store.Value(KeyModel)
	m.logger.WithLevel(level).Str("description", description).Interface("model", model).Msg("configuration")
	for _, set := range m.Sets() {
		m.logger.WithLevel(level).Str("set", set.id).Str("name", set.Name()).Msg("set")
		order := set.ServiceOrder()
		for _, service := range set.Services() {
			event := m.logger.WithLevel(level).
				Str("set", set.id).
				Str("service", service.id).
				Str("name", service.Name()).
				Stringer("interface", service.Interface())
			if idx := slices.Index(order, service.id); idx >= 0 {
				event = event.Int("order", idx+1)
			}
			event.Msg("service")
		}
	}
	for _, orphan := range m.Orphans() {
		m.logger.WithLevel(level).Str("service", orphan.id).Str("name", orphan.Name()).Msg("orphaned service")
	}
}
