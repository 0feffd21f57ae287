// Package network implements services, sets, interfaces and protocols on
// top of a prefs.Store.
package network

import (
	"fmt"
	"strings"

	"github.com/timzifer/netprefs/prefs"
)

// Top-level document sections.
const (
	SectionServices          = "NetworkServices"
	SectionSets              = "Sets"
	SectionVirtualInterfaces = "VirtualNetworkInterfaces"
	KeyCurrentSet            = "CurrentSet"
	KeyModel                 = "Model"
)

// Entity types below a service.
const (
	EntityInterface = "Interface"
	EntityService   = "Service"
	EntityDNS       = "DNS"
	EntityIPv4      = "IPv4"
	EntityIPv6      = "IPv6"
	EntityProxies   = "Proxies"
	EntitySMB       = "SMB"

	EntityEAPOL            = "EAPOL"
	EntityEAPOLLoginWindow = "EAPOL.LoginWindow"
	EntityEAP              = "EAP"
	EntityPayload          = "VPNPayload"
	EntityIPSec            = "IPSec"
)

// Entity keys.
const (
	KeyType            = "Type"
	KeySubType         = "SubType"
	KeyDeviceName      = "DeviceName"
	KeyHardware        = "Hardware"
	KeyUserDefinedName = "UserDefinedName"
	KeyServiceOrder    = "ServiceOrder"
	KeyPrimaryRank     = "PrimaryRank"
	KeyMembers         = "Interfaces"
	KeyOverrides       = "TemplateOverrides"
)

// ExtendedTypes are auxiliary entities that may be attached to a service
// independent of its interface layering.
var ExtendedTypes = []string{
	EntityEAPOL,
	EntityPayload,
	EntityEAP,
	EntityEAPOLLoginWindow,
	EntityIPSec,
}

var baseProtocolTypes = []string{EntityDNS, EntityIPv4, EntityIPv6, EntityProxies, EntitySMB}

func servicePath(serviceID string) string {
	return prefs.Path(SectionServices, serviceID)
}

func serviceEntityPath(serviceID, entity string) string {
	return prefs.Path(SectionServices, serviceID, entity)
}

func setPath(setID string) string {
	return prefs.Path(SectionSets, setID)
}

func setServicesPath(setID string) string {
	return prefs.Path(SectionSets, setID, "Network", "Service")
}

func setServicePath(setID, serviceID string) string {
	return prefs.Path(SectionSets, setID, "Network", "Service", serviceID)
}

func setOrderPath(setID string) string {
	return prefs.Path(SectionSets, setID, "Network", "Global", EntityIPv4)
}

func virtualInterfacePath(ifType, device string) string {
	return prefs.Path(SectionVirtualInterfaces, ifType, device)
}

func validID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("identifier %q: %w", id, prefs.ErrInvalidArgument)
	}
	return nil
}
