package syncd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclab/swsslite/internal/identity"
	"github.com/soniclab/swsslite/internal/platform"
	"github.com/soniclab/swsslite/internal/sai"
	"github.com/soniclab/swsslite/internal/store"
	"github.com/soniclab/swsslite/internal/tables"
)

type fixture struct {
	appl     *store.MemoryStore
	asic     *store.MemoryStore
	counters *store.MemoryStore
	daemon   *Daemon
}

func newFixture() *fixture {
	f := &fixture{
		appl:     store.NewMemoryStore(),
		asic:     store.NewMemoryStore(),
		counters: store.NewMemoryStore(),
	}
	f.daemon = New(f.appl, f.asic, f.counters, platform.Builtin())
	return f
}

// put writes an application record and hands the resulting event to the
// daemon, the way the notification loop would.
func (f *fixture) put(t *testing.T, key string, rec store.Record) {
	t.Helper()
	require.NoError(t, f.appl.Set(context.Background(), key, rec))
	f.daemon.handle(context.Background(), store.Event{Key: key, Op: store.OpSet})
}

func (f *fixture) objects(t *testing.T, typ sai.ObjectType) []store.KeyRecord {
	t.Helper()
	out, err := f.asic.Scan(context.Background(), fmt.Sprintf("ASIC_STATE:%s:", typ))
	require.NoError(t, err)
	return out
}

func TestBootstrapDeterminism(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	require.NoError(t, f.daemon.bootstrap(ctx))

	switches := f.objects(t, sai.ObjectTypeSwitch)
	require.Len(t, switches, 1)
	assert.Equal(t, "true", switches[0].Record[sai.AttrSwitchInit])

	ports := f.objects(t, sai.ObjectTypePort)
	require.Len(t, ports, 6)
	for _, p := range ports {
		assert.Equal(t, "true", p.Record[sai.AttrPortAdminState])
		assert.Equal(t, "25000", p.Record[sai.AttrPortSpeed])
		assert.Equal(t, "9100", p.Record[sai.AttrPortMTU])
	}

	// The switch takes the base OID; ports follow in list order.
	switchID, ok := f.daemon.ids.Lookup(sai.SwitchName)
	require.True(t, ok)
	assert.Equal(t, identity.ObjectID(identity.DefaultBase), switchID)

	firstPort, ok := f.daemon.ids.Lookup(sai.PortName("Ethernet0"))
	require.True(t, ok)
	assert.Equal(t, identity.ObjectID(identity.DefaultBase+1), firstPort)

	// Every port object has a zeroed counter record.
	counters, err := f.counters.Scan(ctx, "COUNTERS:")
	require.NoError(t, err)
	require.Len(t, counters, 6)
	for _, c := range counters {
		for _, stat := range sai.PortStats {
			assert.Equal(t, "0", c.Record[stat])
		}
	}

	// Bootstrapping again creates nothing new.
	require.NoError(t, f.daemon.bootstrap(ctx))
	assert.Len(t, f.objects(t, sai.ObjectTypeSwitch), 1)
	assert.Len(t, f.objects(t, sai.ObjectTypePort), 6)
}

func TestVlanTableEventCreatesObjectAndCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.put(t, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"})

	vlans := f.objects(t, sai.ObjectTypeVlan)
	require.Len(t, vlans, 1)
	assert.Equal(t, "100", vlans[0].Record[sai.AttrVlanID])

	oid, ok := f.daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)

	counters, err := f.counters.Get(ctx, sai.CounterKey(oid))
	require.NoError(t, err)
	for _, stat := range sai.VlanStats {
		assert.Equal(t, "0", counters[stat])
	}
}

// Reprocessing the same VLAN event allocates no second identifier and
// leaves existing counters untouched.
func TestVlanTableEventIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.put(t, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"})
	oid, ok := f.daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)

	// Simulate accumulated traffic since creation.
	busy := store.Record{}
	for _, stat := range sai.VlanStats {
		busy[stat] = "12345"
	}
	require.NoError(t, f.counters.Set(ctx, sai.CounterKey(oid), busy))

	f.put(t, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"})

	assert.Len(t, f.objects(t, sai.ObjectTypeVlan), 1)
	again, ok := f.daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)
	assert.Equal(t, oid, again)

	counters, err := f.counters.Get(ctx, sai.CounterKey(oid))
	require.NoError(t, err)
	for _, stat := range sai.VlanStats {
		assert.Equal(t, "12345", counters[stat], "counters must never be reset")
	}
}

// A membership event with no prior VLAN or port creates both dependencies
// first, VLAN then port, before the membership object itself.
func TestVlanMemberCreatesDependenciesInOrder(t *testing.T) {
	f := newFixture()

	f.put(t, "VLAN_MEMBER_TABLE:Vlan100:Ethernet0",
		store.Record{tables.FieldTaggingMode: tables.TaggingTagged})

	vlanOID, ok := f.daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)
	portOID, ok := f.daemon.ids.Lookup(sai.PortName("Ethernet0"))
	require.True(t, ok)
	memberOID, ok := f.daemon.ids.Lookup(sai.VlanMemberName(100, "Ethernet0"))
	require.True(t, ok)

	// Allocation order: VLAN, then port, then membership.
	assert.Less(t, uint64(vlanOID), uint64(portOID))
	assert.Less(t, uint64(portOID), uint64(memberOID))

	require.Len(t, f.objects(t, sai.ObjectTypeVlan), 1)
	require.Len(t, f.objects(t, sai.ObjectTypePort), 1)

	members := f.objects(t, sai.ObjectTypeVlanMember)
	require.Len(t, members, 1)
	assert.Equal(t, vlanOID.String(), members[0].Record[sai.AttrVlanMemberVlanID])
	assert.Equal(t, portOID.String(), members[0].Record[sai.AttrVlanMemberBridgePort])
	assert.Equal(t, sai.TaggingModeTagged, members[0].Record[sai.AttrVlanMemberTagging])
}

func TestVlanMemberReusesExistingDependencies(t *testing.T) {
	f := newFixture()

	f.put(t, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"})
	f.put(t, "PORT_TABLE:Ethernet4", store.Record{tables.FieldAdminStatus: tables.AdminUp})

	vlanOID, _ := f.daemon.ids.Lookup(sai.VlanName(100))
	portOID, _ := f.daemon.ids.Lookup(sai.PortName("Ethernet4"))

	f.put(t, "VLAN_MEMBER_TABLE:Vlan100:Ethernet4", store.Record{})

	assert.Len(t, f.objects(t, sai.ObjectTypeVlan), 1)
	assert.Len(t, f.objects(t, sai.ObjectTypePort), 1)

	members := f.objects(t, sai.ObjectTypeVlanMember)
	require.Len(t, members, 1)
	assert.Equal(t, vlanOID.String(), members[0].Record[sai.AttrVlanMemberVlanID])
	assert.Equal(t, portOID.String(), members[0].Record[sai.AttrVlanMemberBridgePort])
	assert.Equal(t, sai.TaggingModeUntagged, members[0].Record[sai.AttrVlanMemberTagging])
}

// Reprocessing a membership keeps the allocated identifier and refreshes
// the tagging mode in place.
func TestVlanMemberReprocessKeepsIdentifier(t *testing.T) {
	f := newFixture()

	f.put(t, "VLAN_MEMBER_TABLE:Vlan100:Ethernet0", store.Record{})
	first, ok := f.daemon.ids.Lookup(sai.VlanMemberName(100, "Ethernet0"))
	require.True(t, ok)

	f.put(t, "VLAN_MEMBER_TABLE:Vlan100:Ethernet0",
		store.Record{tables.FieldTaggingMode: tables.TaggingTagged})

	second, ok := f.daemon.ids.Lookup(sai.VlanMemberName(100, "Ethernet0"))
	require.True(t, ok)
	assert.Equal(t, first, second)

	members := f.objects(t, sai.ObjectTypeVlanMember)
	require.Len(t, members, 1)
	assert.Equal(t, sai.TaggingModeTagged, members[0].Record[sai.AttrVlanMemberTagging])
}

// A port event updates only the attributes it carries.
func TestPortTablePartialUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.daemon.bootstrap(ctx))

	f.put(t, "PORT_TABLE:Ethernet0", store.Record{tables.FieldAdminStatus: tables.AdminDown})

	oid, ok := f.daemon.ids.Lookup(sai.PortName("Ethernet0"))
	require.True(t, ok)

	port, err := f.asic.Get(ctx, sai.StateKey(sai.ObjectTypePort, oid))
	require.NoError(t, err)
	assert.Equal(t, "false", port[sai.AttrPortAdminState])
	assert.Equal(t, "25000", port[sai.AttrPortSpeed], "unspecified fields stay unchanged")
	assert.Equal(t, "9100", port[sai.AttrPortMTU], "unspecified fields stay unchanged")

	f.put(t, "PORT_TABLE:Ethernet0", store.Record{tables.FieldSpeed: "100000", tables.FieldMTU: "1500"})

	port, err = f.asic.Get(ctx, sai.StateKey(sai.ObjectTypePort, oid))
	require.NoError(t, err)
	assert.Equal(t, "false", port[sai.AttrPortAdminState], "earlier update survives")
	assert.Equal(t, "100000", port[sai.AttrPortSpeed])
	assert.Equal(t, "1500", port[sai.AttrPortMTU])
}

func TestPortCountersCreatedOnceNeverReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.put(t, "PORT_TABLE:Ethernet8", store.Record{tables.FieldAdminStatus: tables.AdminUp})

	oid, ok := f.daemon.ids.Lookup(sai.PortName("Ethernet8"))
	require.True(t, ok)

	counters, err := f.counters.Get(ctx, sai.CounterKey(oid))
	require.NoError(t, err)
	for _, stat := range sai.PortStats {
		assert.Equal(t, "0", counters[stat])
	}

	busy := store.Record{}
	for _, stat := range sai.PortStats {
		busy[stat] = "777"
	}
	require.NoError(t, f.counters.Set(ctx, sai.CounterKey(oid), busy))

	f.put(t, "PORT_TABLE:Ethernet8", store.Record{tables.FieldMTU: "1500"})

	counters, err = f.counters.Get(ctx, sai.CounterKey(oid))
	require.NoError(t, err)
	for _, stat := range sai.PortStats {
		assert.Equal(t, "777", counters[stat], "counters must never be reset")
	}
}

// failingStore wraps a store and refuses a fixed number of writes before
// recovering, simulating a transiently unavailable backend.
type failingStore struct {
	store.Store
	failures int
}

func (s *failingStore) Set(ctx context.Context, key string, rec store.Record) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("backend write refused")
	}
	return s.Store.Set(ctx, key, rec)
}

// A failed object write must not leave the logical name bound in the
// identity registry, or the redelivered event would be treated as already
// realized and the object could never be created.
func TestVlanObjectCreatedOnRedeliveryAfterWriteFailure(t *testing.T) {
	ctx := context.Background()
	appl := store.NewMemoryStore()
	asic := store.NewMemoryStore()
	counters := store.NewMemoryStore()
	daemon := New(appl, &failingStore{Store: asic, failures: 1}, counters, platform.Builtin())

	require.NoError(t, appl.Set(ctx, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"}))
	daemon.handle(ctx, store.Event{Key: "VLAN_TABLE:Vlan100", Op: store.OpSet})

	// The first delivery failed: no object and no leftover identity entry.
	objs, err := asic.Scan(ctx, "ASIC_STATE:SAI_OBJECT_TYPE_VLAN:")
	require.NoError(t, err)
	assert.Empty(t, objs)
	_, ok := daemon.ids.Lookup(sai.VlanName(100))
	assert.False(t, ok, "failed creation must not bind the name")

	// The redelivered event creates the object once the backend recovers.
	daemon.handle(ctx, store.Event{Key: "VLAN_TABLE:Vlan100", Op: store.OpSet})
	objs, err = asic.Scan(ctx, "ASIC_STATE:SAI_OBJECT_TYPE_VLAN:")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "100", objs[0].Record[sai.AttrVlanID])

	oid, ok := daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)
	got, err := counters.Get(ctx, sai.CounterKey(oid))
	require.NoError(t, err)
	for _, stat := range sai.VlanStats {
		assert.Equal(t, "0", got[stat])
	}
}

func TestPortObjectCreatedOnRedeliveryAfterWriteFailure(t *testing.T) {
	ctx := context.Background()
	appl := store.NewMemoryStore()
	asic := store.NewMemoryStore()
	counters := store.NewMemoryStore()
	daemon := New(appl, &failingStore{Store: asic, failures: 1}, counters, platform.Builtin())

	require.NoError(t, appl.Set(ctx, "PORT_TABLE:Ethernet0", store.Record{tables.FieldMTU: "1500"}))
	daemon.handle(ctx, store.Event{Key: "PORT_TABLE:Ethernet0", Op: store.OpSet})

	_, ok := daemon.ids.Lookup(sai.PortName("Ethernet0"))
	assert.False(t, ok, "failed creation must not bind the name")

	daemon.handle(ctx, store.Event{Key: "PORT_TABLE:Ethernet0", Op: store.OpSet})

	oid, ok := daemon.ids.Lookup(sai.PortName("Ethernet0"))
	require.True(t, ok)
	port, err := asic.Get(ctx, sai.StateKey(sai.ObjectTypePort, oid))
	require.NoError(t, err)
	assert.Equal(t, "1500", port[sai.AttrPortMTU])
}

// A counter write that fails after the object was created heals on
// redelivery: the object keeps its identifier and the counters appear.
func TestVlanCountersHealOnRedelivery(t *testing.T) {
	ctx := context.Background()
	appl := store.NewMemoryStore()
	asic := store.NewMemoryStore()
	counters := store.NewMemoryStore()
	daemon := New(appl, asic, &failingStore{Store: counters, failures: 1}, platform.Builtin())

	require.NoError(t, appl.Set(ctx, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"}))
	daemon.handle(ctx, store.Event{Key: "VLAN_TABLE:Vlan100", Op: store.OpSet})

	// The object exists and keeps its name binding despite the counter
	// failure.
	oid, ok := daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)
	_, err := counters.Get(ctx, sai.CounterKey(oid))
	require.ErrorIs(t, err, store.ErrNotFound)

	daemon.handle(ctx, store.Event{Key: "VLAN_TABLE:Vlan100", Op: store.OpSet})

	again, ok := daemon.ids.Lookup(sai.VlanName(100))
	require.True(t, ok)
	assert.Equal(t, oid, again, "identifier survives the counter failure")
	vlans, err := asic.Scan(ctx, "ASIC_STATE:SAI_OBJECT_TYPE_VLAN:")
	require.NoError(t, err)
	assert.Len(t, vlans, 1)

	got, err := counters.Get(ctx, sai.CounterKey(oid))
	require.NoError(t, err)
	for _, stat := range sai.VlanStats {
		assert.Equal(t, "0", got[stat])
	}
}

func TestMalformedVlanTableNameSkipped(t *testing.T) {
	f := newFixture()

	f.put(t, "VLAN_TABLE:Vlanbogus", store.Record{})
	assert.Empty(t, f.objects(t, sai.ObjectTypeVlan))

	// The daemon keeps processing after the bad event.
	f.put(t, "VLAN_TABLE:Vlan300", store.Record{tables.FieldVlanID: "300"})
	assert.Len(t, f.objects(t, sai.ObjectTypeVlan), 1)
}

func TestUnknownApplTableIgnored(t *testing.T) {
	f := newFixture()

	f.put(t, "LAG_TABLE:PortChannel1", store.Record{"members": "Ethernet0"})

	all, err := f.asic.Scan(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, f.daemon.ids.Len())
}

func TestDeleteEventIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.put(t, "VLAN_TABLE:Vlan100", store.Record{tables.FieldVlanID: "100"})
	require.NoError(t, f.appl.Delete(ctx, "VLAN_TABLE:Vlan100"))
	f.daemon.handle(ctx, store.Event{Key: "VLAN_TABLE:Vlan100", Op: store.OpDelete})

	// Objects are never deleted in this design.
	assert.Len(t, f.objects(t, sai.ObjectTypeVlan), 1)
}
