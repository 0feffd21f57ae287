package network

import (
	"fmt"

	"github.com/timzifer/netprefs/prefs"
)

// Rank controls whether a service may become the primary service.
type Rank int

// Ranks in the order they are stored.
const (
	RankDefault Rank = iota
	RankFirst
	RankLast
	RankNever
	RankScoped
)

var rankNames = map[Rank]string{
	RankFirst:  "First",
	RankLast:   "Last",
	RankNever:  "Never",
	RankScoped: "Scoped",
}

func (r Rank) String() string {
	if r == RankDefault {
		return "Default"
	}
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Rank(%d)", int(r))
}

// ParseRank converts a stored rank value. An empty value is RankDefault.
func ParseRank(value string) (Rank, error) {
	if value == "" {
		return RankDefault, nil
	}
	for rank, name := range rankNames {
		if name == value {
			return rank, nil
		}
	}
	return RankDefault, fmt.Errorf("rank %q: %w", value, prefs.ErrInvalidArgument)
}

// PrimaryRank returns the stored rank of the service.
func (s *Service) PrimaryRank() (Rank, error) {
	if !s.bound() {
		return RankDefault, errUnbound("primary rank")
	}
	config := s.model.store.Configuration(serviceEntityPath(s.id, EntityService))
	value, present := config[KeyPrimaryRank]
	if !present {
		return RankDefault, nil
	}
	name, ok := value.(string)
	if !ok {
		return RankDefault, fmt.Errorf("rank %v: %w", value, prefs.ErrInvalidArgument)
	}
	return ParseRank(name)
}

// SetPrimaryRank stores the rank. RankDefault clears it.
func (s *Service) SetPrimaryRank(rank Rank) error {
	if !s.bound() {
		return errUnbound("set primary rank")
	}
	name, known := rankNames[rank]
	if rank != RankDefault && !known {
		return fmt.Errorf("rank %d: %w", int(rank), prefs.ErrInvalidArgument)
	}
	path := serviceEntityPath(s.id, EntityService)
	config := s.model.store.Configuration(path)
	if config == nil {
		config = prefs.Entity{}
	}
	if rank == RankDefault {
		delete(config, KeyPrimaryRank)
	} else {
		config[KeyPrimaryRank] = name
	}
	if len(config) == 0 {
		return s.model.store.RemoveConfiguration(path)
	}
	return s.model.store.SetConfiguration(path, config, true)
}
