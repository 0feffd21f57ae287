package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory(nil)
	require.NoError(t, err)
	return s
}

func TestSetThenGetRoundTrip(t *testing.T) {
	s := newMemory(t)
	cfg := Entity{"ConfigMethod": "DHCP", "Addresses": []string{"10.0.0.2"}}
	require.NoError(t, s.SetConfiguration("/NetworkServices/1/IPv4", cfg, false))
	require.True(t, s.Changed())

	got := s.Configuration("/NetworkServices/1/IPv4")
	require.True(t, got.Equal(cfg))

	require.NoError(t, s.SetConfiguration("/NetworkServices/1/DNS", Entity{InactiveKey: true}, false))
	require.Nil(t, s.Configuration("/NetworkServices/1/DNS"))
	require.NoError(t, s.SetConfiguration("/NetworkServices/1/SMB", Entity{}, false))
	require.Nil(t, s.Configuration("/NetworkServices/1/SMB"))
}

func TestConfigurationReturnsCopy(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetConfiguration("/A", Entity{"Key": "value"}, false))
	got := s.Configuration("/A")
	got["Key"] = "mutated"
	require.Equal(t, "value", s.Configuration("/A").String("Key"))
}

func TestSetConfigurationWritesOnlyOnChange(t *testing.T) {
	s, err := NewMemory(map[string]any{"A": map[string]any{"Key": "value"}})
	require.NoError(t, err)
	require.False(t, s.Changed())

	require.NoError(t, s.SetConfiguration("/A", Entity{"Key": "value"}, false))
	require.False(t, s.Changed())

	require.NoError(t, s.SetConfiguration("/A", Entity{"Key": "other"}, false))
	require.True(t, s.Changed())
}

func TestSetConfigurationNilRemovesEnabledEntity(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetConfiguration("/S/PPP", Entity{"AuthName": "user"}, true))
	require.NoError(t, s.SetConfiguration("/S/PPP", nil, true))
	_, err := s.PathValue("/S/PPP")
	require.ErrorIs(t, err, ErrNoSuchKey)

	require.NoError(t, s.SetConfiguration("/S/Absent", nil, true))
	_, err = s.PathValue("/S/Absent")
	require.ErrorIs(t, err, ErrNoSuchKey)
}

func TestRemoveConfigurationIsIdempotent(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetConfiguration("/A/B", Entity{"Key": "value"}, false))
	require.NoError(t, s.RemoveConfiguration("/A/B"))
	require.NoError(t, s.RemoveConfiguration("/A/B"))
	require.NoError(t, s.RemoveConfiguration("/Missing/Path"))
	require.Nil(t, s.Configuration("/A/B"))

	err := s.RemovePathValue("/A/B")
	require.ErrorIs(t, err, ErrNoSuchKey)
	require.True(t, IsNoSuchKey(err))
}

func TestDisableEnableRoundTrip(t *testing.T) {
	s := newMemory(t)
	cfg := Entity{"ConfigMethod": "Manual", "Router": "10.0.0.1"}
	require.NoError(t, s.SetConfiguration("/S/IPv4", cfg, false))
	require.True(t, s.Enabled("/S/IPv4"))

	require.NoError(t, s.SetEnabled("/S/IPv4", false))
	require.False(t, s.Enabled("/S/IPv4"))
	disabled := s.Configuration("/S/IPv4")
	require.True(t, disabled.Inactive())
	require.Equal(t, "Manual", disabled.String("ConfigMethod"))

	require.NoError(t, s.SetEnabled("/S/IPv4", true))
	require.True(t, s.Enabled("/S/IPv4"))
	require.True(t, s.Configuration("/S/IPv4").Equal(cfg))
}

func TestSetEnabledOnAbsentPath(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetEnabled("/S/IPv6", true))
	require.False(t, s.Changed())
	_, err := s.PathValue("/S/IPv6")
	require.ErrorIs(t, err, ErrNoSuchKey)

	require.NoError(t, s.SetEnabled("/S/IPv6", false))
	raw, err := s.PathValue("/S/IPv6")
	require.NoError(t, err)
	require.Equal(t, map[string]any{InactiveKey: true}, raw)
	require.Nil(t, s.Configuration("/S/IPv6"))
	require.False(t, s.Enabled("/S/IPv6"))
}

func TestSetEnabledRejectsNonMapping(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetValue("CurrentSet", "/Sets/A"))
	require.ErrorIs(t, s.SetEnabled("/CurrentSet", false), ErrInvalidArgument)
}

func TestKeepInactivePolicy(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetConfiguration("/P", Entity{"Key": "a"}, false))
	require.NoError(t, s.SetEnabled("/P", false))

	require.NoError(t, s.SetConfiguration("/P", Entity{"Key": "b"}, true))
	got := s.Configuration("/P")
	require.True(t, got.Inactive())
	require.Equal(t, "b", got.String("Key"))

	require.NoError(t, s.SetConfiguration("/P", Entity{"Key": "c"}, false))
	require.False(t, s.Configuration("/P").Inactive())

	require.NoError(t, s.SetConfiguration("/P", Entity{"Key": "d", InactiveKey: true}, true))
	require.False(t, s.Configuration("/P").Inactive())

	require.NoError(t, s.SetEnabled("/P", false))
	require.NoError(t, s.SetConfiguration("/P", nil, true))
	raw, err := s.PathValue("/P")
	require.NoError(t, err)
	require.Equal(t, map[string]any{InactiveKey: true}, raw)
}

func TestSetConfigurationRejectsUnsupportedValues(t *testing.T) {
	s := newMemory(t)
	err := s.SetConfiguration("/P", Entity{"Bad": struct{}{}}, false)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.ErrorIs(t, s.SetConfiguration("relative", Entity{"Key": "v"}, false), ErrInvalidArgument)
}

func TestSetPathValueRequiresMappingParents(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetValue("Model", "MacBook"))
	err := s.SetPathValue("/Model/Child", map[string]any{"Key": "v"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.ErrorIs(t, s.SetPathValue("/", map[string]any{"Key": "v"}), ErrInvalidArgument)
	require.ErrorIs(t, s.SetPathValue("/A", nil), ErrInvalidArgument)
}

func TestLinksResolveTransparently(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetConfiguration("/NetworkServices/1/Interface", Entity{"Type": "Ethernet"}, false))

	err := s.SetPathLink("/Sets/A/Network/Service/1", "/NetworkServices/1")
	require.NoError(t, err)

	target, err := s.PathLink("/Sets/A/Network/Service/1")
	require.NoError(t, err)
	require.Equal(t, "/NetworkServices/1", target)

	got := s.Configuration("/Sets/A/Network/Service/1/Interface")
	require.Equal(t, "Ethernet", got.String("Type"))

	require.NoError(t, s.SetConfiguration("/Sets/A/Network/Service/1/IPv4", Entity{"ConfigMethod": "DHCP"}, false))
	require.Equal(t, "DHCP", s.Configuration("/NetworkServices/1/IPv4").String("ConfigMethod"))

	require.NoError(t, s.RemovePathValue("/Sets/A/Network/Service/1"))
	require.NotNil(t, s.Configuration("/NetworkServices/1/Interface"))
	_, err = s.PathLink("/Sets/A/Network/Service/1")
	require.ErrorIs(t, err, ErrNoSuchKey)
}

func TestSetPathLinkRequiresTarget(t *testing.T) {
	s := newMemory(t)
	err := s.SetPathLink("/Sets/A/Network/Service/1", "/NetworkServices/1")
	require.ErrorIs(t, err, ErrNoSuchKey)
}

func TestLinkCycleIsRejected(t *testing.T) {
	s, err := NewMemory(map[string]any{
		"A": map[string]any{LinkKey: "/B"},
		"B": map[string]any{LinkKey: "/A"},
	})
	require.NoError(t, err)
	_, err = s.PathValue("/A/Key")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestKeysAndUniqueChild(t *testing.T) {
	s := newMemory(t)
	first, err := s.CreateUniqueChild("/Sets")
	require.NoError(t, err)
	second, err := s.CreateUniqueChild("/Sets")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Len(t, s.Keys("/Sets"), 2)
	require.Nil(t, s.Keys("/Missing"))
}

func TestTopLevelValues(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetValue("CurrentSet", "/Sets/A"))
	v, ok := s.Value("CurrentSet")
	require.True(t, ok)
	require.Equal(t, "/Sets/A", v)

	require.NoError(t, s.RemoveValue("CurrentSet"))
	_, ok = s.Value("CurrentSet")
	require.False(t, ok)
	require.ErrorIs(t, s.RemoveValue("CurrentSet"), ErrNoSuchKey)
}

func TestRevertRestoresCommittedTree(t *testing.T) {
	s := newMemory(t)
	require.NoError(t, s.SetConfiguration("/A", Entity{"Key": "v1"}, false))
	require.NoError(t, s.Commit())
	require.False(t, s.Changed())

	require.NoError(t, s.SetConfiguration("/A", Entity{"Key": "v2"}, false))
	s.Revert()
	require.Equal(t, "v1", s.Configuration("/A").String("Key"))
	require.False(t, s.Changed())
}

func TestCommitAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	require.False(t, s.Signature().Exists)

	require.NoError(t, s.SetConfiguration("/NetworkServices/1/Interface", Entity{"Type": "Ethernet", "DeviceName": "en0"}, false))
	require.NoError(t, s.SetValue("CurrentSet", "/Sets/A"))
	require.NoError(t, s.Commit())
	require.True(t, s.Signature().Exists)

	again, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "en0", again.Configuration("/NetworkServices/1/Interface").String("DeviceName"))
	require.Equal(t, s.Signature(), again.Signature())
}

func TestCommitDetectsStaleDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Sets: {}\n"), 0o644))

	h1, err := Open(path)
	require.NoError(t, err)
	h2, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, h2.SetConfiguration("/NetworkServices/2/Interface", Entity{"Type": "Ethernet"}, false))
	require.NoError(t, h2.Commit())

	require.NoError(t, h1.SetConfiguration("/NetworkServices/1/Interface", Entity{"Type": "PPP"}, false))
	err = h1.Commit()
	require.ErrorIs(t, err, ErrStaleDocument)
	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	require.Equal(t, "commit", pathErr.Op)

	// the working tree survives a failed commit
	require.True(t, h1.Changed())
	require.NotNil(t, h1.Configuration("/NetworkServices/1/Interface"))

	require.NoError(t, h1.Reload())
	require.Nil(t, h1.Configuration("/NetworkServices/1/Interface"))
	require.NotNil(t, h1.Configuration("/NetworkServices/2/Interface"))
	require.NoError(t, h1.SetConfiguration("/NetworkServices/1/Interface", Entity{"Type": "PPP"}, false))
	require.NoError(t, h1.Commit())
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNilStoreIsInvalid(t *testing.T) {
	var s *Store
	require.ErrorIs(t, s.SetConfiguration("/A", Entity{"K": "v"}, false), ErrInvalidArgument)
	require.ErrorIs(t, s.Commit(), ErrInvalidArgument)
	require.Nil(t, s.Configuration("/A"))
	require.False(t, s.Enabled("/A"))
}

func TestStoreLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, path, s.Location())
	require.Equal(t, "preferences.yaml", s.Name())

	require.Empty(t, newMemory(t).Location())
	var unbound *Store
	require.Empty(t, unbound.Location())
}

func TestSnapshotRestore(t *testing.T) {
	s, err := NewMemory(map[string]any{"Sets": map[string]any{"S": map[string]any{"Name": "Home"}}})
	require.NoError(t, err)
	before := s.Document()
	snap := s.Snapshot()

	require.NoError(t, s.SetPathValue("/NetworkServices/1/Interface", map[string]any{"Type": "Ethernet"}))
	require.NoError(t, s.SetPathLink("/Sets/S/Network/Service/1", "/NetworkServices/1"))
	require.NoError(t, s.RemovePathValue("/Sets/S/Network/Service/1"))
	require.NoError(t, s.RemovePathValue("/NetworkServices/1"))
	require.NotEqual(t, before, s.Document())
	require.True(t, s.Changed())

	require.NoError(t, s.Restore(snap))
	require.Equal(t, before, s.Document())
	require.False(t, s.Changed())

	require.ErrorIs(t, s.Restore(Snapshot{}), ErrInvalidArgument)
}
