package network

import (
	"github.com/timzifer/netprefs/prefs"
)

// Protocol is a protocol entity attached to a service.
type Protocol struct {
	service      *Service
	protocolType string
}

// Type returns the protocol type, for example "IPv4".
func (p *Protocol) Type() string { return p.protocolType }

// Service returns the owning service.
func (p *Protocol) Service() *Service { return p.service }

func (p *Protocol) path() string {
	return serviceEntityPath(p.service.id, p.protocolType)
}

// Configuration returns the protocol configuration or nil when it is
// effectively empty.
func (p *Protocol) Configuration() prefs.Entity {
	if !p.service.bound() {
		return nil
	}
	return p.service.model.store.Configuration(p.path())
}

// SetConfiguration replaces the protocol configuration, keeping its
// enabled state.
func (p *Protocol) SetConfiguration(config prefs.Entity) error {
	if !p.service.bound() {
		return errUnbound("set protocol configuration")
	}
	return p.service.model.store.SetConfiguration(p.path(), config, true)
}

// Enabled reports whether the protocol is enabled.
func (p *Protocol) Enabled() bool {
	if !p.service.bound() {
		return false
	}
	return p.service.model.store.Enabled(p.path())
}

// SetEnabled enables or disables the protocol without losing its
// configuration.
func (p *Protocol) SetEnabled(enabled bool) error {
	if !p.service.bound() {
		return errUnbound("enable protocol")
	}
	return p.service.model.store.SetEnabled(p.path(), enabled)
}
