package network

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/netprefs/prefs"
	"github.com/timzifer/netprefs/secrets"
)

func newModel(t *testing.T, opts ...Option) *Model {
	t.Helper()
	store, err := prefs.NewMemory(nil)
	require.NoError(t, err)
	m, err := NewModel(store, opts...)
	require.NoError(t, err)
	return m
}

func addEthernet(t *testing.T, m *Model, id, device string) *Service {
	t.Helper()
	service, err := m.CreateServiceWithID(id, NewEthernetInterface(device, "Ethernet Adapter ("+device+")"))
	require.NoError(t, err)
	return service
}

func addSet(t *testing.T, m *Model, id string, services ...*Service) *Set {
	t.Helper()
	set, err := m.CreateSetWithID(id, id)
	require.NoError(t, err)
	for _, service := range services {
		require.NoError(t, set.AddService(service))
	}
	return set
}

func serviceIDs(services []*Service) []string {
	ids := make([]string, 0, len(services))
	for _, s := range services {
		ids = append(ids, s.ID())
	}
	return ids
}

func TestServiceExistsRequiresInterface(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")
	require.True(t, service.Exists())

	loaded, err := m.Service("1")
	require.NoError(t, err)
	require.Equal(t, "en0", loaded.Interface().DeviceName())

	_, err = m.Service("missing")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)

	require.NoError(t, m.Store().SetConfiguration("/NetworkServices/2/IPv4", prefs.Entity{"ConfigMethod": "DHCP"}, false))
	_, err = m.Service("2")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
	require.Equal(t, []string{"1"}, serviceIDs(m.Services()))

	_, err = m.CreateServiceWithID("1", NewEthernetInterface("en1", ""))
	require.ErrorIs(t, err, prefs.ErrKeyExists)
	_, err = m.CreateServiceWithID("a/b", NewEthernetInterface("en1", ""))
	require.ErrorIs(t, err, prefs.ErrInvalidArgument)

	generated, err := m.CreateService(NewEthernetInterface("en2", ""))
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID())
	require.True(t, generated.Exists())
}

func TestServiceNameFallsBackToInterface(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")
	require.Equal(t, "Ethernet Adapter (en0)", service.Name())

	require.NoError(t, service.SetName("Office"))
	require.Equal(t, "Office", service.Name())
	require.True(t, service.Exists())

	require.NoError(t, service.SetName(""))
	require.Equal(t, "Ethernet Adapter (en0)", service.Name())
}

func TestServiceDisableEnableRestoresConfiguration(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")
	require.NoError(t, service.EstablishDefaultConfiguration())
	before := m.Store().Document()

	require.NoError(t, service.SetEnabled(false))
	require.False(t, service.Enabled())
	require.True(t, service.Exists())
	ipv4, err := service.Protocol("IPv4")
	require.NoError(t, err)
	require.Equal(t, "DHCP", ipv4.Configuration().String("ConfigMethod"))

	require.NoError(t, service.SetEnabled(true))
	require.True(t, service.Enabled())
	require.Equal(t, before, m.Store().Document())
}

func TestEstablishDefaultConfigurationEthernet(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")
	require.NoError(t, service.EstablishDefaultConfiguration())

	var types []string
	for _, p := range service.Protocols() {
		types = append(types, p.Type())
		require.True(t, p.Enabled())
	}
	require.Equal(t, []string{"DNS", "IPv4", "IPv6", "Proxies", "SMB"}, types)

	_, err := m.Store().PathValue("/NetworkServices/1/Ethernet")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)

	// running it again keeps existing configuration
	ipv4, err := service.Protocol("IPv4")
	require.NoError(t, err)
	require.NoError(t, ipv4.SetConfiguration(prefs.Entity{"ConfigMethod": "Manual"}))
	require.NoError(t, service.EstablishDefaultConfiguration())
	require.Equal(t, "Manual", ipv4.Configuration().String("ConfigMethod"))
}

func TestEstablishDefaultConfigurationLayeredInterface(t *testing.T) {
	m := newModel(t)
	iface, err := NewInterface(prefs.Entity{KeyType: TypePPP, KeySubType: SubTypeL2TP})
	require.NoError(t, err)
	service, err := m.CreateServiceWithID("vpn", iface)
	require.NoError(t, err)
	require.NoError(t, service.EstablishDefaultConfiguration())

	ppp := service.LayerConfiguration(0)
	require.NotNil(t, ppp)
	acsp, ok := ppp.Int("ACSPEnabled")
	require.True(t, ok)
	require.Equal(t, int64(1), acsp)
	require.Equal(t, "IPSec", service.LayerConfiguration(1).String("Transport"))
	require.Nil(t, service.LayerConfiguration(2))
	require.ErrorIs(t, service.SetLayerConfiguration(2, prefs.Entity{"K": "v"}), prefs.ErrInvalidArgument)

	ipv4, err := service.Protocol("IPv4")
	require.NoError(t, err)
	require.Equal(t, "PPP", ipv4.Configuration().String("ConfigMethod"))
}

func TestProtocolLifecycle(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")

	p, err := service.AddProtocolType("IPv4")
	require.NoError(t, err)
	require.Equal(t, "DHCP", p.Configuration().String("ConfigMethod"))

	_, err = service.AddProtocolType("IPv4")
	require.ErrorIs(t, err, prefs.ErrKeyExists)
	_, err = service.AddProtocolType("Bogus")
	require.ErrorIs(t, err, prefs.ErrInvalidArgument)

	dns, err := service.AddProtocolType("DNS")
	require.NoError(t, err)
	require.Nil(t, dns.Configuration())
	_, err = service.Protocol("DNS")
	require.NoError(t, err)

	require.NoError(t, p.SetEnabled(false))
	require.False(t, p.Enabled())
	require.NoError(t, p.SetConfiguration(prefs.Entity{"ConfigMethod": "Manual"}))
	require.False(t, p.Enabled())
	require.Equal(t, "Manual", p.Configuration().String("ConfigMethod"))

	require.NoError(t, service.RemoveProtocolType("IPv4"))
	require.ErrorIs(t, service.RemoveProtocolType("IPv4"), prefs.ErrNoSuchKey)
	_, err = service.Protocol("IPv4")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
}

func TestSetMembership(t *testing.T) {
	m := newModel(t)
	a := addEthernet(t, m, "A", "en0")
	b := addEthernet(t, m, "B", "en1")
	set := addSet(t, m, "S", a, b)

	require.Equal(t, []string{"A", "B"}, set.ServiceOrder())
	require.Equal(t, []string{"A", "B"}, serviceIDs(set.Services()))
	require.ErrorIs(t, set.AddService(a), prefs.ErrKeyExists)

	sameDevice := addEthernet(t, m, "A2", "en0")
	require.ErrorIs(t, set.AddService(sameDevice), prefs.ErrKeyExists)

	require.NoError(t, set.SetServiceOrder([]string{"B", "A"}))
	require.Equal(t, []string{"B", "A"}, serviceIDs(set.Services()))
	require.ErrorIs(t, set.SetServiceOrder([]string{"A", "A"}), prefs.ErrInvalidArgument)

	require.NoError(t, set.RemoveService(b))
	require.Equal(t, []string{"A"}, set.ServiceOrder())
	require.ErrorIs(t, set.RemoveService(b), prefs.ErrNoSuchKey)
	require.True(t, b.Exists())
}

func TestServiceRemoveLeavesNoDanglingMembers(t *testing.T) {
	m := newModel(t)
	a := addEthernet(t, m, "A", "en0")
	b := addEthernet(t, m, "B", "en1")
	s1 := addSet(t, m, "S1", a, b)
	s2 := addSet(t, m, "S2", a)

	require.NoError(t, a.Remove())
	require.NoError(t, a.Remove())
	require.False(t, a.Exists())
	require.Equal(t, []string{"B"}, s1.ServiceOrder())
	require.Empty(t, s2.ServiceOrder())
	require.False(t, s2.Contains(a))
}

func TestEnabledServicesDeduplicatesInSetOrder(t *testing.T) {
	m := newModel(t)
	a := addEthernet(t, m, "A", "en0")
	b := addEthernet(t, m, "B", "en1")
	c := addEthernet(t, m, "C", "en2")
	addSet(t, m, "S1", b, a)
	addSet(t, m, "S2", a, c)
	require.NoError(t, c.SetEnabled(false))

	require.Equal(t, []string{"B", "A"}, serviceIDs(m.EnabledServices()))
}

func TestInterfacesAreDistinctOrNil(t *testing.T) {
	m := newModel(t)
	require.Nil(t, m.Interfaces())

	addEthernet(t, m, "A", "en0")
	addEthernet(t, m, "B", "en0")
	addEthernet(t, m, "C", "en1")
	interfaces := m.Interfaces()
	require.Len(t, interfaces, 2)
}

func TestReplaceServiceID(t *testing.T) {
	m := newModel(t)
	a := addEthernet(t, m, "A", "en0")
	b := addEthernet(t, m, "B", "en1")
	c := addEthernet(t, m, "C", "en2")
	addEthernet(t, m, "B2", "en3")
	set := addSet(t, m, "S", a, b, c)

	require.NoError(t, m.ReplaceServiceID(set, "B", "B2"))
	require.Equal(t, []string{"A", "B2", "C"}, set.ServiceOrder())

	target, err := m.Store().PathLink("/Sets/S/Network/Service/B2")
	require.NoError(t, err)
	require.Equal(t, "/NetworkServices/B2", target)
	_, err = m.Store().PathLink("/Sets/S/Network/Service/B")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
	for _, id := range []string{"A", "C"} {
		target, err := m.Store().PathLink("/Sets/S/Network/Service/" + id)
		require.NoError(t, err)
		require.Equal(t, "/NetworkServices/"+id, target)
	}
	require.Equal(t, "en3", m.Store().Configuration("/Sets/S/Network/Service/B2/Interface").String(KeyDeviceName))

	before := m.Store().Document()
	require.NoError(t, m.ReplaceServiceID(set, "X", "Y"))
	require.Equal(t, before, m.Store().Document())
}

func TestReplaceServiceIDRequiresTargetService(t *testing.T) {
	m := newModel(t)
	a := addEthernet(t, m, "A", "en0")
	b := addEthernet(t, m, "B", "en1")
	set := addSet(t, m, "S", a, b)
	before := m.Store().Document()

	err := m.ReplaceServiceID(set, "B", "B2")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
	require.Equal(t, before, m.Store().Document())
	require.Equal(t, []string{"A", "B"}, set.ServiceOrder())
	require.Equal(t, []string{"A", "B"}, serviceIDs(set.Services()))
}

func TestSetServiceIDMovesMembership(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")
	require.NoError(t, service.EstablishDefaultConfiguration())
	set := addSet(t, m, "S", service)

	require.NoError(t, service.SetServiceID("2"))
	require.Equal(t, "2", service.ID())
	_, err := m.Service("1")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
	moved, err := m.Service("2")
	require.NoError(t, err)
	require.Len(t, moved.Protocols(), 5)
	require.Equal(t, []string{"2"}, set.ServiceOrder())
	require.True(t, set.Contains(moved))

	other := addEthernet(t, m, "3", "en1")
	require.ErrorIs(t, other.SetServiceID("2"), prefs.ErrKeyExists)
}

func TestCopyInterfaceConfiguration(t *testing.T) {
	m := newModel(t)
	l2tp, err := NewInterface(prefs.Entity{KeyType: TypePPP, KeySubType: SubTypeL2TP})
	require.NoError(t, err)
	plain, err := NewInterface(prefs.Entity{KeyType: TypePPP})
	require.NoError(t, err)

	src, err := m.CreateServiceWithID("src", l2tp)
	require.NoError(t, err)
	require.NoError(t, src.SetLayerConfiguration(0, prefs.Entity{"AuthName": "user"}))
	require.NoError(t, src.SetLayerConfiguration(1, prefs.Entity{"Transport": "IPSec"}))
	require.NoError(t, src.SetExtendedConfiguration(EntityEAPOL, prefs.Entity{"AcceptEAPTypes": []any{int64(13)}}))
	require.NoError(t, src.SetExtendedConfiguration(EntityIPSec, prefs.Entity{"AuthenticationMethod": "SharedSecret"}))

	dst, err := m.CreateServiceWithID("dst", plain)
	require.NoError(t, err)
	require.NoError(t, m.CopyInterfaceConfiguration(src, dst))

	require.Equal(t, "user", dst.LayerConfiguration(0).String("AuthName"))
	require.Equal(t, src.ExtendedConfiguration(EntityEAPOL), dst.ExtendedConfiguration(EntityEAPOL))
	require.Equal(t, "SharedSecret", dst.ExtendedConfiguration(EntityIPSec).String("AuthenticationMethod"))
	require.Nil(t, dst.ExtendedConfiguration(EntityEAP))
	_, err = m.Store().PathValue("/NetworkServices/dst/L2TP")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)

	require.ErrorIs(t, src.SetExtendedConfiguration("IPv4", prefs.Entity{"K": "v"}), prefs.ErrInvalidArgument)
}

func TestCurrentSet(t *testing.T) {
	m := newModel(t)
	_, err := m.CurrentSet()
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)

	set := addSet(t, m, "S")
	require.Equal(t, "S", set.Name())
	require.NoError(t, m.SetCurrentSet(set))
	current, err := m.CurrentSet()
	require.NoError(t, err)
	require.Equal(t, "S", current.ID())

	require.NoError(t, set.SetName("Automatic"))
	require.Equal(t, "Automatic", set.Name())

	require.NoError(t, set.Remove())
	_, err = m.CurrentSet()
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
	_, err = m.Set("S")
	require.ErrorIs(t, err, prefs.ErrNoSuchKey)
	require.Empty(t, m.Sets())
}

func TestPrimaryRank(t *testing.T) {
	m := newModel(t)
	service := addEthernet(t, m, "1", "en0")

	rank, err := service.PrimaryRank()
	require.NoError(t, err)
	require.Equal(t, RankDefault, rank)

	require.NoError(t, service.SetPrimaryRank(RankNever))
	rank, err = service.PrimaryRank()
	require.NoError(t, err)
	require.Equal(t, RankNever, rank)
	require.Equal(t, "Never", rank.String())

	require.NoError(t, service.SetPrimaryRank(RankDefault))
	require.Nil(t, m.Store().Configuration("/NetworkServices/1/Service"))
	require.ErrorIs(t, service.SetPrimaryRank(Rank(42)), prefs.ErrInvalidArgument)

	_, err = ParseRank("Sometimes")
	require.ErrorIs(t, err, prefs.ErrInvalidArgument)
}

func TestServicePassword(t *testing.T) {
	m := newModel(t)
	iface, err := NewInterface(prefs.Entity{KeyType: TypePPP, KeySubType: SubTypeL2TP})
	require.NoError(t, err)
	service, err := m.CreateServiceWithID("vpn", iface)
	require.NoError(t, err)
	require.NoError(t, service.SetLayerConfiguration(0, prefs.Entity{
		"AuthName":               "user",
		"AuthPassword":           "item-1",
		"AuthPasswordEncryption": secrets.ExternalStoreValue,
	}))
	require.NoError(t, service.SetExtendedConfiguration(EntityIPSec, prefs.Entity{"SharedSecret": "inline"}))

	store := secrets.NewMemoryStore()
	store.Put("item-1", []byte("pw"))

	secret, ok := service.Password(store, PasswordPPP)
	require.True(t, ok)
	require.Equal(t, []byte("pw"), secret)

	shared, ok := service.Password(store, PasswordIPSecSharedSecret)
	require.True(t, ok)
	require.Equal(t, []byte("inline"), shared)

	require.False(t, service.PasswordExists(store, PasswordEAPOL))

	removed, err := service.RemovePassword(store, PasswordPPP)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, prefs.Entity{"AuthName": "user"}, service.LayerConfiguration(0))
	require.False(t, store.Exists("item-1"))
}

type failingKernel struct{ err error }

func (k failingKernel) CreateInterface(string) error  { return k.err }
func (k failingKernel) DestroyInterface(string) error { return k.err }

func TestBridgeMembers(t *testing.T) {
	m := newModel(t)
	_, err := m.AddBridge("bridge0", []string{"en1", "en2"}, "Thunderbolt Bridge")
	require.NoError(t, err)
	_, err = m.AddBridge("bridge1", []string{"en3"}, "")
	require.NoError(t, err)

	bridges := m.BridgeInterfaces()
	require.Len(t, bridges, 2)
	require.Equal(t, "Thunderbolt Bridge", bridges[0].UserDefinedName())

	members := m.CollectMemberInterfaces(bridges)
	require.Len(t, members, 3)
	require.Contains(t, members, "en1")
	require.Contains(t, members, "en3")

	_, err = m.AddBridge("bridge2", []string{"en2"}, "")
	require.ErrorIs(t, err, prefs.ErrKeyExists)
	_, err = m.AddBridge("bridge0", nil, "")
	require.ErrorIs(t, err, prefs.ErrKeyExists)

	require.NoError(t, m.RemoveBridge("bridge1"))
	require.Len(t, m.BridgeInterfaces(), 1)
	require.ErrorIs(t, m.RemoveBridge("bridge1"), prefs.ErrNoSuchKey)
}

func TestBridgeRolledBackWhenKernelFails(t *testing.T) {
	boom := errors.New("ioctl failed")
	m := newModel(t, WithKernel(failingKernel{err: boom}))

	_, err := m.AddBridge("bridge0", []string{"en1"}, "")
	require.ErrorIs(t, err, boom)
	require.Empty(t, m.BridgeInterfaces())
}

func TestUnboundHandles(t *testing.T) {
	_, err := NewModel(nil)
	require.ErrorIs(t, err, prefs.ErrInvalidArgument)

	var service *Service
	require.False(t, service.Exists())
	require.False(t, service.Enabled())
	require.ErrorIs(t, service.SetEnabled(true), prefs.ErrInvalidArgument)
	require.ErrorIs(t, service.Remove(), prefs.ErrInvalidArgument)

	var set *Set
	require.ErrorIs(t, set.AddService(nil), prefs.ErrInvalidArgument)

	var m *Model
	require.Nil(t, m.Services())
	require.ErrorIs(t, m.ReplaceServiceID(nil, "a", "b"), prefs.ErrInvalidArgument)
}

func TestOrphans(t *testing.T) {
	m := newModel(t)
	a := addEthernet(t, m, "A", "en0")
	addEthernet(t, m, "B", "en1")
	addSet(t, m, "S", a)
	require.Equal(t, []string{"B"}, serviceIDs(m.Orphans()))
}
