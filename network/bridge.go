package network

import (
	"errors"
	"fmt"
	"slices"

	"github.com/timzifer/netprefs/prefs"
)

// Kernel creates and destroys virtual interfaces in the running system.
type Kernel interface {
	CreateInterface(name string) error
	DestroyInterface(name string) error
}

// NoopKernel accepts every request without touching the system.
type NoopKernel struct{}

// CreateInterface implements Kernel.
func (NoopKernel) CreateInterface(string) error { return nil }

// DestroyInterface implements Kernel.
func (NoopKernel) DestroyInterface(string) error { return nil }

// VirtualInterfaces returns the virtual interfaces of one type, for example
// Bridge or Bond, sorted by device name.
func (m *Model) VirtualInterfaces(ifType string) []*Interface {
	if !m.bound() {
		return nil
	}
	var interfaces []*Interface
	for _, device := range m.store.Keys(prefs.Path(SectionVirtualInterfaces, ifType)) {
		entity := prefs.Entity{KeyType: ifType, KeyDeviceName: device}
		if name := m.store.Configuration(virtualInterfacePath(ifType, device)).String(KeyUserDefinedName); name != "" {
			entity[KeyUserDefinedName] = name
		}
		iface, err := NewInterface(entity)
		if err != nil {
			continue
		}
		interfaces = append(interfaces, iface)
	}
	return interfaces
}

// BridgeInterfaces returns the configured bridges.
func (m *Model) BridgeInterfaces() []*Interface {
	return m.VirtualInterfaces(TypeBridge)
}

// MemberInterfaces returns the interfaces aggregated by a bridge or bond.
func (m *Model) MemberInterfaces(iface *Interface) []*Interface {
	if !m.bound() || iface == nil {
		return nil
	}
	config := m.store.Configuration(virtualInterfacePath(iface.Type(), iface.DeviceName()))
	var members []*Interface
	for _, device := range config.Strings(KeyMembers) {
		members = append(members, NewEthernetInterface(device, ""))
	}
	return members
}

// CollectMemberInterfaces returns the union of the members of every given
// aggregate interface, keyed by device name.
func (m *Model) CollectMemberInterfaces(interfaces []*Interface) map[string]*Interface {
	members := map[string]*Interface{}
	for _, iface := range interfaces {
		for _, member := range m.MemberInterfaces(iface) {
			members[member.DeviceName()] = member
		}
	}
	return members
}

// AddBridge records a bridge and asks the kernel to create it. The record is
// rolled back when the kernel call fails.
func (m *Model) AddBridge(device string, members []string, name string) (*Interface, error) {
	if !m.bound() {
		return nil, errUnbound("add bridge")
	}
	if err := validID(device); err != nil {
		return nil, err
	}
	path := virtualInterfacePath(TypeBridge, device)
	if m.store.Configuration(path) != nil {
		return nil, fmt.Errorf("bridge %s: %w", device, prefs.ErrKeyExists)
	}
	for _, other := range m.BridgeInterfaces() {
		for _, member := range m.MemberInterfaces(other) {
			if slices.Contains(members, member.DeviceName()) {
				return nil, fmt.Errorf("%s is already a member of %s: %w", member.DeviceName(), other.DeviceName(), prefs.ErrKeyExists)
			}
		}
	}
	entity := prefs.Entity{KeyMembers: append([]string{}, members...)}
	if name != "" {
		entity[KeyUserDefinedName] = name
	}
	if err := m.store.SetConfiguration(path, entity, false); err != nil {
		return nil, err
	}
	if err := m.kernel.CreateInterface(device); err != nil {
		if rmErr := m.store.RemoveConfiguration(path); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return nil, fmt.Errorf("create bridge %s: %w", device, err)
	}
	m.logger.Info().Str("bridge", device).Strs("members", members).Msg("bridge created")
	entity[KeyType] = TypeBridge
	entity[KeyDeviceName] = device
	delete(entity, KeyMembers)
	return NewInterface(entity)
}

// RemoveBridge asks the kernel to destroy the bridge and drops its record.
func (m *Model) RemoveBridge(device string) error {
	if !m.bound() {
		return errUnbound("remove bridge")
	}
	path := virtualInterfacePath(TypeBridge, device)
	if m.store.Configuration(path) == nil {
		return fmt.Errorf("bridge %s: %w", device, prefs.ErrNoSuchKey)
	}
	if err := m.kernel.DestroyInterface(device); err != nil {
		return fmt.Errorf("destroy bridge %s: %w", device, err)
	}
	return m.store.RemoveConfiguration(path)
}
