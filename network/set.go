package network

import (
	"errors"
	"fmt"
	"slices"

	"github.com/timzifer/netprefs/prefs"
)

// Set is a named, ordered collection of services.
type Set struct {
	model *Model
	id    string
}

func (s *Set) bound() bool {
	return s != nil && s.model.bound()
}

// ID returns the set identifier.
func (s *Set) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Exists reports whether the set is present in the document.
func (s *Set) Exists() bool {
	if !s.bound() {
		return false
	}
	raw, err := s.model.store.PathValue(setPath(s.id))
	if err != nil {
		return false
	}
	_, ok := raw.(map[string]any)
	return ok
}

// Name returns the set display name.
func (s *Set) Name() string {
	if !s.bound() {
		return ""
	}
	raw, err := s.model.store.PathValue(setPath(s.id))
	if err != nil {
		return ""
	}
	m, _ := raw.(map[string]any)
	return prefs.Entity(m).String(KeyUserDefinedName)
}

// SetName stores the set display name. An empty name clears it.
func (s *Set) SetName(name string) error {
	if !s.bound() {
		return errUnbound("set name")
	}
	raw, err := s.model.store.PathValue(setPath(s.id))
	if err != nil {
		return err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("set %s: %w", s.id, prefs.ErrInvalidArgument)
	}
	if name == "" {
		delete(m, KeyUserDefinedName)
	} else {
		m[KeyUserDefinedName] = name
	}
	return s.model.store.SetPathValue(setPath(s.id), m)
}

// ServiceOrder returns the member service identifiers in order.
func (s *Set) ServiceOrder() []string {
	if !s.bound() {
		return nil
	}
	return s.model.store.Configuration(setOrderPath(s.id)).Strings(KeyServiceOrder)
}

// SetServiceOrder replaces the service order. Duplicate identifiers are
// rejected.
func (s *Set) SetServiceOrder(order []string) error {
	if !s.bound() {
		return errUnbound("set service order")
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate service %s in order: %w", id, prefs.ErrInvalidArgument)
		}
		seen[id] = struct{}{}
	}
	path := setOrderPath(s.id)
	config := s.model.store.Configuration(path)
	if config == nil {
		config = prefs.Entity{}
	}
	config[KeyServiceOrder] = append([]string{}, order...)
	return s.model.store.SetConfiguration(path, config, true)
}

func (s *Set) contains(serviceID string) bool {
	_, err := s.model.store.PathLink(setServicePath(s.id, serviceID))
	return err == nil
}

// Contains reports whether the service is a member of the set.
func (s *Set) Contains(service *Service) bool {
	if !s.bound() || service == nil {
		return false
	}
	return s.contains(service.id)
}

// Services returns the member services, following the service order first
// and then any linked services missing from it.
func (s *Set) Services() []*Service {
	if !s.bound() {
		return nil
	}
	linked := s.model.store.Keys(setServicesPath(s.id))
	ids := make([]string, 0, len(linked))
	for _, id := range s.ServiceOrder() {
		if slices.Contains(linked, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range linked {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	var services []*Service
	for _, id := range ids {
		if !s.contains(id) {
			continue
		}
		service, err := s.model.Service(id)
		if err != nil {
			continue
		}
		services = append(services, service)
	}
	return services
}

// AddService links a service into the set and appends it to the service
// order. A service, or another service on the same device, may only be
// added once.
func (s *Set) AddService(service *Service) error {
	if !s.bound() || !service.bound() {
		return errUnbound("add service")
	}
	if !service.Exists() {
		return fmt.Errorf("service %s: %w", service.id, prefs.ErrNoSuchKey)
	}
	if s.contains(service.id) {
		return fmt.Errorf("service %s in set %s: %w", service.id, s.id, prefs.ErrKeyExists)
	}
	if iface := service.Interface(); iface != nil && iface.DeviceName() != "" {
		for _, member := range s.Services() {
			if member.Interface().Equal(iface) {
				return fmt.Errorf("interface %s already in set %s via service %s: %w", iface, s.id, member.id, prefs.ErrKeyExists)
			}
		}
	}
	if err := s.model.store.SetPathLink(setServicePath(s.id, service.id), servicePath(service.id)); err != nil {
		return err
	}
	order := s.ServiceOrder()
	if !slices.Contains(order, service.id) {
		if err := s.SetServiceOrder(append(order, service.id)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveService unlinks a service from the set and drops it from the
// service order.
func (s *Set) RemoveService(service *Service) error {
	if !s.bound() || service == nil {
		return errUnbound("remove service")
	}
	if !s.contains(service.id) {
		return fmt.Errorf("service %s in set %s: %w", service.id, s.id, prefs.ErrNoSuchKey)
	}
	if err := s.model.store.RemovePathValue(setServicePath(s.id, service.id)); err != nil {
		return err
	}
	order := s.ServiceOrder()
	if idx := slices.Index(order, service.id); idx >= 0 {
		if err := s.SetServiceOrder(slices.Delete(order, idx, idx+1)); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the set. Member services are kept.
func (s *Set) Remove() error {
	if !s.bound() {
		return errUnbound("remove set")
	}
	if current, err := s.model.CurrentSet(); err == nil && current.id == s.id {
		if err := s.model.store.RemoveValue(KeyCurrentSet); err != nil && !errors.Is(err, prefs.ErrNoSuchKey) {
			return err
		}
	}
	return s.model.store.RemoveConfiguration(setPath(s.id))
}
