package network

import (
	"fmt"
	"strings"

	"github.com/timzifer/netprefs/prefs"
)

// Interface and layer types.
const (
	TypeEthernet  = "Ethernet"
	TypeIEEE80211 = "IEEE80211"
	TypeModem     = "Modem"
	TypePPP       = "PPP"
	TypeL2TP      = "L2TP"
	TypePPTP      = "PPTP"
	TypeIPSec     = "IPSec"
	TypeVPN       = "VPN"
	Type6to4      = "6to4"
	TypeIPv4      = "IPv4"
	TypeBond      = "Bond"
	TypeBridge    = "Bridge"
	TypeVLAN      = "VLAN"
	TypeLoopback  = "Loopback"
)

// Interface subtypes and hardware kinds.
const (
	SubTypePPPoE     = "PPPoE"
	SubTypePPPSerial = "PPPSerial"
	SubTypeL2TP      = "L2TP"
	SubTypePPTP      = "PPTP"

	HardwareAirPort = "AirPort"
)

var layerEntities = map[string]string{
	TypeEthernet:  "Ethernet",
	TypeIEEE80211: "AirPort",
	TypeModem:     "Modem",
	TypePPP:       "PPP",
	TypeL2TP:      "L2TP",
	TypePPTP:      "PPTP",
	TypeIPSec:     "IPSec",
	TypeVPN:       "VPN",
	Type6to4:      "6to4",
}

// Layer is one level of an interface chain.
type Layer struct {
	Type string
	// Entity names the service entity holding this layer's configuration.
	// Empty when the layer has none.
	Entity string
}

// Interface describes the interface a service is bound to. Layers are
// ordered outermost first.
type Interface struct {
	entity prefs.Entity
	layers []Layer
}

// NewInterface builds an interface from its persisted entity.
func NewInterface(entity prefs.Entity) (*Interface, error) {
	if entity.String(KeyType) == "" {
		return nil, fmt.Errorf("interface entity without %s: %w", KeyType, prefs.ErrInvalidArgument)
	}
	normalized, err := prefs.NewEntity(entity)
	if err != nil {
		return nil, err
	}
	delete(normalized, prefs.InactiveKey)
	return &Interface{entity: normalized, layers: buildLayers(normalized)}, nil
}

// NewEthernetInterface is a convenience constructor for a physical port.
func NewEthernetInterface(device, name string) *Interface {
	entity := prefs.Entity{KeyType: TypeEthernet, KeyDeviceName: device}
	if name != "" {
		entity[KeyUserDefinedName] = name
	}
	iface, _ := NewInterface(entity)
	return iface
}

func buildLayers(entity prefs.Entity) []Layer {
	ifType := entity.String(KeyType)
	subType := entity.String(KeySubType)
	var types []string
	switch ifType {
	case TypeEthernet:
		if entity.String(KeyHardware) == HardwareAirPort {
			types = []string{TypeIEEE80211}
		} else {
			types = []string{TypeEthernet}
		}
	case TypePPP:
		switch subType {
		case "":
			types = []string{TypePPP}
		case SubTypePPPoE:
			types = []string{TypePPP, TypeEthernet}
		case SubTypePPPSerial:
			types = []string{TypePPP, TypeModem}
		case SubTypeL2TP:
			types = []string{TypePPP, TypeL2TP, TypeIPv4}
		case SubTypePPTP:
			types = []string{TypePPP, TypePPTP, TypeIPv4}
		default:
			types = []string{TypePPP, subType, TypeIPv4}
		}
	case TypeIPSec, TypeVPN, Type6to4:
		types = []string{ifType, TypeIPv4}
	default:
		types = []string{ifType}
	}
	layers := make([]Layer, len(types))
	for i, t := range types {
		layers[i] = Layer{Type: t, Entity: layerEntity(t)}
	}
	return layers
}

func layerEntity(layerType string) string {
	if name, ok := layerEntities[layerType]; ok {
		return name
	}
	// vendor qualified PPP transports keep their configuration under
	// their own type name
	if strings.Contains(layerType, ".") {
		return layerType
	}
	return ""
}

// Type returns the outermost interface type.
func (i *Interface) Type() string { return i.entity.String(KeyType) }

// SubType returns the interface subtype, if any.
func (i *Interface) SubType() string { return i.entity.String(KeySubType) }

// DeviceName returns the physical device name, if any.
func (i *Interface) DeviceName() string { return i.entity.String(KeyDeviceName) }

// Hardware returns the hardware kind, if any.
func (i *Interface) Hardware() string { return i.entity.String(KeyHardware) }

// UserDefinedName returns the display name stored with the interface.
func (i *Interface) UserDefinedName() string { return i.entity.String(KeyUserDefinedName) }

// Entity returns a copy of the persisted interface entity.
func (i *Interface) Entity() prefs.Entity { return i.entity.Clone() }

// Layers returns the interface chain, outermost first.
func (i *Interface) Layers() []Layer {
	return append([]Layer(nil), i.layers...)
}

// LayerTypes returns the layer types, outermost first.
func (i *Interface) LayerTypes() []string {
	types := make([]string, len(i.layers))
	for idx, layer := range i.layers {
		types[idx] = layer.Type
	}
	return types
}

// TemplateOverrides returns the protocol overrides the device declares for
// its lowest layer.
func (i *Interface) TemplateOverrides(protocolType string) prefs.Entity {
	overrides := i.entity.Entity(KeyOverrides).Entity(protocolType)
	if len(overrides) == 0 {
		return nil
	}
	return overrides.Clone()
}

// Key identifies the interface for de-duplication.
func (i *Interface) Key() string {
	return strings.Join([]string{i.Type(), i.SubType(), i.Hardware(), i.DeviceName()}, "/")
}

// Equal reports whether both describe the same interface.
func (i *Interface) Equal(other *Interface) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.Key() == other.Key()
}

func (i *Interface) String() string {
	if device := i.DeviceName(); device != "" {
		return fmt.Sprintf("%s(%s)", strings.Join(i.LayerTypes(), "/"), device)
	}
	return strings.Join(i.LayerTypes(), "/")
}
