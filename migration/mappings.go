package migration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/netprefs/network"
)

// Mappings are the caller supplied remapping tables for a migration.
type Mappings struct {
	// DeviceNames maps source device names to destination device names.
	DeviceNames map[string]string `yaml:"device_names"`
	// Sets maps source set identifiers to destination set identifiers.
	Sets map[string]string `yaml:"sets"`
	// ServiceSets lists the source sets of every service to migrate.
	ServiceSets map[string][]string `yaml:"service_sets"`
}

// LoadMappings reads mapping tables from a YAML file.
func LoadMappings(path string) (Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mappings{}, fmt.Errorf("read mappings: %w", err)
	}
	var m Mappings
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mappings{}, fmt.Errorf("decode mappings %s: %w", path, err)
	}
	return m, nil
}

// ServiceSetsFrom derives the service to set table from a source model.
func ServiceSetsFrom(src *network.Model) map[string][]string {
	table := map[string][]string{}
	for _, set := range src.Sets() {
		for _, service := range set.Services() {
			table[service.ID()] = append(table[service.ID()], set.ID())
		}
	}
	return table
}

// IdentitySets maps every set of the source model to the set of the same
// identifier.
func IdentitySets(src *network.Model) map[string]string {
	sets := map[string]string{}
	for _, set := range src.Sets() {
		sets[set.ID()] = set.ID()
	}
	return sets
}

func (m Mappings) device(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	mapped, ok := m.DeviceNames[name]
	if !ok || mapped == "" || mapped == name {
		return "", false
	}
	return mapped, true
}
