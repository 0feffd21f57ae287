package network

import (
	"fmt"

	"github.com/timzifer/netprefs/prefs"
	"github.com/timzifer/netprefs/secrets"
)

// PasswordType selects which secret of a service is addressed.
type PasswordType int

// Password types.
const (
	PasswordPPP PasswordType = iota
	PasswordIPSecSharedSecret
	PasswordEAPOL
)

type passwordLocation struct {
	entity string
	keys   secrets.Keys
	suffix string
}

var passwordLocations = map[PasswordType]passwordLocation{
	PasswordPPP:               {entity: "PPP", keys: secrets.PPPKeys},
	PasswordIPSecSharedSecret: {entity: EntityIPSec, keys: secrets.IPSecKeys, suffix: ".SS"},
	PasswordEAPOL:             {entity: EntityEAPOL, keys: secrets.EAPOLKeys},
}

func (s *Service) passwordConfig(kind PasswordType) (passwordLocation, prefs.Entity, string, error) {
	if !s.bound() {
		return passwordLocation{}, nil, "", errUnbound("password")
	}
	loc, ok := passwordLocations[kind]
	if !ok {
		return passwordLocation{}, nil, "", fmt.Errorf("password type %d: %w", int(kind), prefs.ErrInvalidArgument)
	}
	config := s.model.store.Configuration(serviceEntityPath(s.id, loc.entity))
	return loc, config, secrets.UniqueID(config, loc.keys, s.id+loc.suffix), nil
}

// Password resolves a secret of the service.
func (s *Service) Password(store secrets.Store, kind PasswordType) ([]byte, bool) {
	loc, config, id, err := s.passwordConfig(kind)
	if err != nil {
		return nil, false
	}
	return secrets.Extract(store, config, loc.keys, id)
}

// PasswordExists reports whether a secret of the service can be resolved.
func (s *Service) PasswordExists(store secrets.Store, kind PasswordType) bool {
	loc, config, id, err := s.passwordConfig(kind)
	if err != nil {
		return false
	}
	return secrets.Exists(store, config, loc.keys, id)
}

// RemovePassword deletes a secret and clears its reference from the entity.
func (s *Service) RemovePassword(store secrets.Store, kind PasswordType) (bool, error) {
	loc, config, id, err := s.passwordConfig(kind)
	if err != nil {
		return false, err
	}
	updated, removed := secrets.Remove(store, config, loc.keys, id)
	if !removed || config == nil {
		return removed, nil
	}
	if err := s.model.store.SetConfiguration(serviceEntityPath(s.id, loc.entity), updated, true); err != nil {
		return true, err
	}
	return true, nil
}
