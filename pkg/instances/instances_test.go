package instances

import (
	"strings"
	"testing"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

type capturePort struct {
	events []broadcast.Event
}

func (p *capturePort) Publish(event broadcast.Event) {
	p.events = append(p.events, event)
}

func (p *capturePort) kinds() []string {
	kinds := make([]string, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(isFriend, inGuild RelationFunc) (*Registry, *capturePort, *testClock) {
	port := &capturePort{}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	registry := NewRegistry(NewRegistryOptions{
		Port:     port,
		IsFriend: isFriend,
		InGuild:  inGuild,
		Metrics:  metrics.NewRegistry(),
		Now:      clock.Now,
	})
	return registry, port, clock
}

func apartment(id string) Location {
	return Location{
		ID:       types.LocationID(id),
		Kind:     KindApartment,
		Name:     "Megabuilding H10",
		Entrance: types.Vec3{X: 10, Y: 20},
		Interior: types.Vec3{X: 11, Y: 21, Z: 50},
	}
}

func store(id string) Location {
	return Location{
		ID:       types.LocationID(id),
		Kind:     KindStore,
		Name:     "Ripperdoc",
		Entrance: types.Vec3{X: 100},
		Interior: types.Vec3{X: 101},
	}
}

func TestRegistry_RegisterLocation(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)

	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))
	loc, ok := registry.Location("apt_h10")
	assert.True(t, ok)
	assert.Equal(t, KindApartment, loc.Kind)

	err := registry.RegisterLocation(apartment("bad id!"))
	assert.True(t, types.IsValidationFailed(err))

	bad := apartment("apt_x")
	bad.Kind = LocationKind("garage")
	assert.True(t, types.IsValidationFailed(registry.RegisterLocation(bad)))

	far := apartment("apt_y")
	far.Interior = types.Vec3{X: types.WorldBound + 1}
	assert.True(t, types.IsValidationFailed(registry.RegisterLocation(far)))
}

func TestRegistry_ApartmentAccess(t *testing.T) {
	friends := func(a, b types.PeerID) bool { return b == 3 }
	guild := func(a, b types.PeerID) bool { return b == 4 }

	tests := []struct {
		name    string
		perms   *Permissions
		visitor types.PeerID
		want    bool
	}{
		{
			name:    "owner always enters",
			visitor: 1,
			want:    true,
		},
		{
			name:    "no policy denies visitors",
			visitor: 2,
			want:    false,
		},
		{
			name:    "explicit allow grants",
			perms:   &Permissions{Allowed: map[types.PeerID]struct{}{2: {}}},
			visitor: 2,
			want:    true,
		},
		{
			name: "blocked beats allowed",
			perms: &Permissions{
				Allowed: map[types.PeerID]struct{}{2: {}},
				Blocked: map[types.PeerID]struct{}{2: {}},
			},
			visitor: 2,
			want:    false,
		},
		{
			name:    "friends grant",
			perms:   &Permissions{AllowFriends: true},
			visitor: 3,
			want:    true,
		},
		{
			name:    "friends grant does not cover strangers",
			perms:   &Permissions{AllowFriends: true},
			visitor: 5,
			want:    false,
		},
		{
			name:    "guild grant",
			perms:   &Permissions{AllowGuild: true},
			visitor: 4,
			want:    true,
		},
		{
			name:    "public admits anyone",
			perms:   &Permissions{Public: true},
			visitor: 5,
			want:    true,
		},
		{
			name:    "blocked beats public",
			perms:   &Permissions{Public: true, Blocked: map[types.PeerID]struct{}{5: {}}},
			visitor: 5,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _, _ := newTestRegistry(friends, guild)
			assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))
			if tt.perms != nil {
				assert.NoError(t, registry.SetPermissions("apt_h10", 1, *tt.perms))
			}

			err := registry.EnterApartment("apt_h10", 1, tt.visitor)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, types.IsConflict(err))
			}
		})
	}
}

func TestRegistry_EnterValidation(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))
	assert.NoError(t, registry.RegisterLocation(store("shop_doc")))

	assert.True(t, types.IsNotFound(registry.EnterApartment("nope", 1, 1)))
	assert.True(t, types.IsValidationFailed(registry.EnterApartment("shop_doc", 1, 1)))
	assert.True(t, types.IsNotFound(registry.EnterStore("nope", 1)))
	assert.True(t, types.IsValidationFailed(registry.EnterStore("apt_h10", 1)))
}

func TestRegistry_PerOwnerInstances(t *testing.T) {
	registry, port, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))

	// Two owners of the same apartment shell get distinct interiors.
	assert.NoError(t, registry.EnterApartment("apt_h10", 1, 1))
	assert.NoError(t, registry.EnterApartment("apt_h10", 2, 2))

	key1, _ := registry.InstanceOf(1)
	key2, _ := registry.InstanceOf(2)
	assert.NotEqual(t, key1, key2)
	assert.Equal(t, []types.PeerID{1}, registry.Occupants(key1))
	assert.Contains(t, port.kinds(), broadcast.EventTeleportPeer)
	assert.Contains(t, port.kinds(), broadcast.EventInstanceUpdate)
}

func TestRegistry_StoresAreShared(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(store("shop_doc")))

	assert.NoError(t, registry.EnterStore("shop_doc", 1))
	assert.NoError(t, registry.EnterStore("shop_doc", 2))

	key, _ := registry.InstanceOf(1)
	assert.Equal(t, types.PeerID(0), key.Owner)
	assert.ElementsMatch(t, []types.PeerID{1, 2}, registry.Occupants(key))
}

func TestRegistry_MovingEvictsFromPrevious(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))
	assert.NoError(t, registry.RegisterLocation(store("shop_doc")))

	assert.NoError(t, registry.EnterApartment("apt_h10", 1, 1))
	aptKey, _ := registry.InstanceOf(1)

	assert.NoError(t, registry.EnterStore("shop_doc", 1))
	storeKey, _ := registry.InstanceOf(1)
	assert.NotEqual(t, aptKey, storeKey)
	assert.Empty(t, registry.Occupants(aptKey))

	registry.Leave(1)
	_, ok := registry.InstanceOf(1)
	assert.False(t, ok)
	registry.Leave(1)
}

func TestRegistry_SetPermissionsValidation(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(store("shop_doc")))

	err := registry.SetPermissions("shop_doc", 1, Permissions{Public: true})
	assert.True(t, types.IsValidationFailed(err), "stores carry no permissions")
	assert.True(t, types.IsNotFound(registry.SetPermissions("nope", 1, Permissions{})))
}

func TestRegistry_RegisterLocationCaps(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)

	long := apartment("apt_x")
	long.Name = strings.Repeat("x", MaxLocationNameLen+1)
	assert.True(t, types.IsValidationFailed(registry.RegisterLocation(long)))

	over := apartment("apt_y")
	over.MaxPlayers = MaxApartmentOccupants + 1
	assert.True(t, types.IsValidationFailed(registry.RegisterLocation(over)))

	// An unset cap takes the kind's ceiling.
	assert.NoError(t, registry.RegisterLocation(apartment("apt_z")))
	loc, _ := registry.Location("apt_z")
	assert.Equal(t, MaxApartmentOccupants, loc.MaxPlayers)
}

func TestRegistry_InstanceCapacity(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))
	assert.NoError(t, registry.SetPermissions("apt_h10", 1, Permissions{Public: true}))

	for peer := types.PeerID(1); peer <= MaxApartmentOccupants; peer++ {
		assert.NoError(t, registry.EnterApartment("apt_h10", 1, peer))
	}
	err := registry.EnterApartment("apt_h10", 1, MaxApartmentOccupants+1)
	assert.True(t, types.IsCapacityExceeded(err))
	assert.Len(t, registry.Occupants(InstanceKey{LocationID: "apt_h10", Owner: 1}), MaxApartmentOccupants)
}

func TestRegistry_ConfiguredCapacity(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	small := store("shop_doc")
	small.MaxPlayers = 2
	assert.NoError(t, registry.RegisterLocation(small))

	assert.NoError(t, registry.EnterStore("shop_doc", 1))
	assert.NoError(t, registry.EnterStore("shop_doc", 2))
	assert.True(t, types.IsCapacityExceeded(registry.EnterStore("shop_doc", 3)))
}

func TestRegistry_AlreadyInside(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))

	assert.NoError(t, registry.EnterApartment("apt_h10", 1, 1))
	assert.True(t, types.IsConflict(registry.EnterApartment("apt_h10", 1, 1)))
	assert.Equal(t, []types.PeerID{1}, registry.Occupants(InstanceKey{LocationID: "apt_h10", Owner: 1}))
}

func TestRegistry_CustomLocations(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	custom := Location{
		ID:       "arena_1",
		Kind:     KindCustom,
		Name:     "Combat Arena",
		Entrance: types.Vec3{X: 200},
		Interior: types.Vec3{X: 201},
	}
	assert.NoError(t, registry.RegisterLocation(custom))
	loc, _ := registry.Location("arena_1")
	assert.Equal(t, MaxCustomOccupants, loc.MaxPlayers)

	assert.NoError(t, registry.EnterCustom("arena_1", 1))
	assert.NoError(t, registry.EnterCustom("arena_1", 2))
	key, _ := registry.InstanceOf(1)
	assert.ElementsMatch(t, []types.PeerID{1, 2}, registry.Occupants(key))

	assert.NoError(t, registry.RegisterLocation(store("shop_doc")))
	assert.True(t, types.IsValidationFailed(registry.EnterCustom("shop_doc", 3)))
	assert.True(t, types.IsNotFound(registry.EnterCustom("nope", 3)))
}

func TestRegistry_ClosedStore(t *testing.T) {
	registry, _, _ := newTestRegistry(nil, nil)
	closed := store("shop_doc")
	closed.Closed = true
	assert.NoError(t, registry.RegisterLocation(closed))

	assert.True(t, types.IsConflict(registry.EnterStore("shop_doc", 1)))
}

func TestRegistry_TickCollectsEmptyInstances(t *testing.T) {
	registry, port, clock := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))

	assert.NoError(t, registry.EnterApartment("apt_h10", 1, 1))
	key, _ := registry.InstanceOf(1)
	registry.Leave(1)

	clock.Advance(emptyInstanceTTL - time.Minute)
	registry.Tick()
	assert.NotNil(t, registry.Occupants(key))

	clock.Advance(2 * time.Minute)
	registry.Tick()
	assert.Nil(t, registry.Occupants(key))
	assert.Contains(t, port.kinds(), broadcast.EventInstanceDestroyed)
}

func TestRegistry_ReenterKeepsInstanceAlive(t *testing.T) {
	registry, _, clock := newTestRegistry(nil, nil)
	assert.NoError(t, registry.RegisterLocation(apartment("apt_h10")))

	assert.NoError(t, registry.EnterApartment("apt_h10", 1, 1))
	registry.Leave(1)
	clock.Advance(4 * time.Minute)

	// Re-entry clears the empty timer.
	assert.NoError(t, registry.EnterApartment("apt_h10", 1, 1))
	registry.Leave(1)
	clock.Advance(4 * time.Minute)
	registry.Tick()

	key := InstanceKey{LocationID: "apt_h10", Owner: 1}
	assert.NotNil(t, registry.Occupants(key))
}
