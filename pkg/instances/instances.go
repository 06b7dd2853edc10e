package instances

import (
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

// emptyInstanceTTL garbage-collects an instance after this long with no
// occupants.
const emptyInstanceTTL = 5 * time.Minute

// LocationKind distinguishes personal interiors from shared ones.
type LocationKind string

const (
	KindApartment LocationKind = "apartment"
	KindStore     LocationKind = "store"
	// KindCustom locations are registered at runtime through the admin API.
	KindCustom LocationKind = "custom"
)

const (
	// MaxApartmentOccupants caps one apartment instance.
	MaxApartmentOccupants = 32
	// MaxStoreOccupants caps one shared store instance.
	MaxStoreOccupants = 50
	// MaxCustomOccupants caps one custom-location instance.
	MaxCustomOccupants = 100
	// MaxLocationNameLen bounds registered location names.
	MaxLocationNameLen = 64
)

// Location is a registered enterable interior.
type Location struct {
	ID       types.LocationID `json:"id" yaml:"id"`
	Kind     LocationKind     `json:"kind" yaml:"kind"`
	Name     string           `json:"name" yaml:"name"`
	Entrance types.Vec3       `json:"entrance" yaml:"entrance"`
	Interior types.Vec3       `json:"interior" yaml:"interior"`
	// MaxPlayers caps the instance occupancy; zero takes the kind's cap.
	MaxPlayers int `json:"maxPlayers" yaml:"maxPlayers"`
	// Closed shuts a store to new entries.
	Closed bool `json:"closed" yaml:"closed"`
}

// kindCap is the hard occupancy ceiling per location kind.
func kindCap(kind LocationKind) int {
	switch kind {
	case KindApartment:
		return MaxApartmentOccupants
	case KindStore:
		return MaxStoreOccupants
	default:
		return MaxCustomOccupants
	}
}

// Permissions is an apartment owner's access policy. Blocked always wins
// over every grant; absent any matching grant, entry is denied.
type Permissions struct {
	Public       bool
	AllowFriends bool
	AllowGuild   bool
	Allowed      map[types.PeerID]struct{}
	Blocked      map[types.PeerID]struct{}
}

// RelationFunc reports whether two peers share a social relation (friends
// list, guild roster). The session fabric supplies these.
type RelationFunc func(a, b types.PeerID) bool

// InstanceKey identifies one running instance. Apartments are keyed by
// location and owner so two owners of the same apartment shell get distinct
// interiors; stores use a zero owner and are shared.
type InstanceKey struct {
	LocationID types.LocationID
	Owner      types.PeerID
}

type instance struct {
	key        InstanceKey
	occupants  map[types.PeerID]struct{}
	emptySince time.Time
}

// Registry tracks registered locations, apartment permissions, and running
// interior instances. Instance state is its own lock domain.
type Registry struct {
	lock        sync.RWMutex
	locations   map[types.LocationID]Location
	permissions map[types.LocationID]map[types.PeerID]*Permissions
	instances   map[InstanceKey]*instance
	byPeer      map[types.PeerID]InstanceKey

	port     broadcast.Port
	isFriend RelationFunc
	inGuild  RelationFunc
	metrics  *metrics.Registry
	now      func() time.Time
}

type NewRegistryOptions struct {
	Port     broadcast.Port
	IsFriend RelationFunc
	InGuild  RelationFunc
	Metrics  *metrics.Registry
	Now      func() time.Time
}

func NewRegistry(opts NewRegistryOptions) *Registry {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		locations:   make(map[types.LocationID]Location),
		permissions: make(map[types.LocationID]map[types.PeerID]*Permissions),
		instances:   make(map[InstanceKey]*instance),
		byPeer:      make(map[types.PeerID]InstanceKey),
		port:        port,
		isFriend:    opts.IsFriend,
		inGuild:     opts.InGuild,
		metrics:     opts.Metrics,
		now:         now,
	}
}

// RegisterLocation upserts a location definition. An unset player cap takes
// the kind's ceiling; a configured cap may not exceed it.
func (r *Registry) RegisterLocation(loc Location) error {
	if !types.ValidShortID(string(loc.ID)) {
		return &types.ErrValidationFailed{Reason: "malformed location id"}
	}
	if loc.Kind != KindApartment && loc.Kind != KindStore && loc.Kind != KindCustom {
		return &types.ErrValidationFailed{Reason: "unknown location kind"}
	}
	if len(loc.Name) > MaxLocationNameLen {
		return &types.ErrValidationFailed{Reason: "location name too long"}
	}
	if !loc.Entrance.InWorldBounds() || !loc.Interior.InWorldBounds() {
		return &types.ErrValidationFailed{Reason: "location coordinates out of bounds"}
	}
	if loc.MaxPlayers < 0 || loc.MaxPlayers > kindCap(loc.Kind) {
		return &types.ErrValidationFailed{Reason: "player cap out of range"}
	}
	if loc.MaxPlayers == 0 {
		loc.MaxPlayers = kindCap(loc.Kind)
	}
	r.lock.Lock()
	r.locations[loc.ID] = loc
	r.lock.Unlock()
	return nil
}

// Location returns a registered location definition.
func (r *Registry) Location(locationID types.LocationID) (Location, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	loc, ok := r.locations[locationID]
	return loc, ok
}

// SetPermissions replaces an apartment owner's access policy and announces
// the change to current occupants of that owner's instance.
func (r *Registry) SetPermissions(locationID types.LocationID, owner types.PeerID, perms Permissions) error {
	r.lock.Lock()
	loc, ok := r.locations[locationID]
	if !ok {
		r.lock.Unlock()
		return &types.ErrNotFound{Kind: "location", ID: string(locationID)}
	}
	if loc.Kind != KindApartment {
		r.lock.Unlock()
		return &types.ErrValidationFailed{Reason: "permissions apply to apartments only"}
	}
	byOwner, ok := r.permissions[locationID]
	if !ok {
		byOwner = make(map[types.PeerID]*Permissions)
		r.permissions[locationID] = byOwner
	}
	p := clonePermissions(perms)
	byOwner[owner] = &p

	var occupants []types.PeerID
	if inst, ok := r.instances[InstanceKey{LocationID: locationID, Owner: owner}]; ok {
		occupants = occupantList(inst)
	}
	r.lock.Unlock()

	if len(occupants) > 0 {
		r.port.Publish(broadcast.Event{
			Kind:       broadcast.EventPermissionUpdate,
			SenderPeer: owner,
			Payload: map[string]interface{}{
				"locationId": locationID,
				"owner":      owner,
			},
			Recipients: occupants,
		})
	}
	return nil
}

func clonePermissions(perms Permissions) Permissions {
	p := Permissions{
		Public:       perms.Public,
		AllowFriends: perms.AllowFriends,
		AllowGuild:   perms.AllowGuild,
		Allowed:      make(map[types.PeerID]struct{}, len(perms.Allowed)),
		Blocked:      make(map[types.PeerID]struct{}, len(perms.Blocked)),
	}
	for id := range perms.Allowed {
		p.Allowed[id] = struct{}{}
	}
	for id := range perms.Blocked {
		p.Blocked[id] = struct{}{}
	}
	return p
}

// allowedLocked resolves whether visitor may enter owner's apartment.
// Resolution order: blocked denies, explicit allow grants, then friends,
// guild, and public grants. No match denies.
func (r *Registry) allowedLocked(locationID types.LocationID, owner, visitor types.PeerID) bool {
	if visitor == owner {
		return true
	}
	byOwner := r.permissions[locationID]
	if byOwner == nil {
		return false
	}
	perms := byOwner[owner]
	if perms == nil {
		return false
	}
	if _, blocked := perms.Blocked[visitor]; blocked {
		return false
	}
	if _, allowed := perms.Allowed[visitor]; allowed {
		return true
	}
	if perms.AllowFriends && r.isFriend != nil && r.isFriend(owner, visitor) {
		return true
	}
	if perms.AllowGuild && r.inGuild != nil && r.inGuild(owner, visitor) {
		return true
	}
	return perms.Public
}

// EnterApartment admits a peer into the owner's apartment instance,
// creating it on first entry. The peer leaves any instance it currently
// occupies.
func (r *Registry) EnterApartment(locationID types.LocationID, owner, peerID types.PeerID) error {
	r.lock.Lock()
	loc, ok := r.locations[locationID]
	if !ok {
		r.lock.Unlock()
		return &types.ErrNotFound{Kind: "location", ID: string(locationID)}
	}
	if loc.Kind != KindApartment {
		r.lock.Unlock()
		return &types.ErrValidationFailed{Reason: "location is not an apartment"}
	}
	if !r.allowedLocked(locationID, owner, peerID) {
		r.lock.Unlock()
		return &types.ErrConflict{Reason: "entry denied"}
	}
	key := InstanceKey{LocationID: locationID, Owner: owner}
	events, err := r.admitLocked(key, peerID, loc)
	r.lock.Unlock()
	if err != nil {
		return err
	}

	r.metrics.Inc("instances.apartment_entries")
	r.publishAll(events)
	return nil
}

// EnterStore admits a peer into the shared instance of a store location.
// A closed store rejects new entries.
func (r *Registry) EnterStore(locationID types.LocationID, peerID types.PeerID) error {
	r.lock.Lock()
	loc, ok := r.locations[locationID]
	if !ok {
		r.lock.Unlock()
		return &types.ErrNotFound{Kind: "location", ID: string(locationID)}
	}
	if loc.Kind != KindStore {
		r.lock.Unlock()
		return &types.ErrValidationFailed{Reason: "location is not a store"}
	}
	if loc.Closed {
		r.lock.Unlock()
		return &types.ErrConflict{Reason: "store is closed"}
	}
	key := InstanceKey{LocationID: locationID}
	events, err := r.admitLocked(key, peerID, loc)
	r.lock.Unlock()
	if err != nil {
		return err
	}

	r.metrics.Inc("instances.store_entries")
	r.publishAll(events)
	return nil
}

// EnterCustom admits a peer into the shared instance of a custom location.
func (r *Registry) EnterCustom(locationID types.LocationID, peerID types.PeerID) error {
	r.lock.Lock()
	loc, ok := r.locations[locationID]
	if !ok {
		r.lock.Unlock()
		return &types.ErrNotFound{Kind: "location", ID: string(locationID)}
	}
	if loc.Kind != KindCustom {
		r.lock.Unlock()
		return &types.ErrValidationFailed{Reason: "location is not a custom location"}
	}
	key := InstanceKey{LocationID: locationID}
	events, err := r.admitLocked(key, peerID, loc)
	r.lock.Unlock()
	if err != nil {
		return err
	}

	r.metrics.Inc("instances.custom_entries")
	r.publishAll(events)
	return nil
}

// admitLocked moves a peer into the instance under key, removing it from
// any previous instance, and returns the events to publish after unlock.
// A peer already inside the target instance and an instance at its player
// cap are both rejected before any state changes.
func (r *Registry) admitLocked(key InstanceKey, peerID types.PeerID, loc Location) ([]broadcast.Event, error) {
	if prev, ok := r.byPeer[peerID]; ok && prev == key {
		return nil, &types.ErrConflict{Reason: "already inside"}
	}
	if inst, ok := r.instances[key]; ok && len(inst.occupants) >= loc.MaxPlayers {
		return nil, &types.ErrCapacityExceeded{Resource: "instance occupants"}
	}

	interior := loc.Interior
	var events []broadcast.Event
	if prev, ok := r.byPeer[peerID]; ok {
		if evt, ok := r.evictLocked(prev, peerID); ok {
			events = append(events, evt)
		}
	}
	inst, ok := r.instances[key]
	if !ok {
		inst = &instance{key: key, occupants: make(map[types.PeerID]struct{})}
		r.instances[key] = inst
	}
	inst.occupants[peerID] = struct{}{}
	inst.emptySince = time.Time{}
	r.byPeer[peerID] = key

	events = append(events,
		broadcast.Event{
			Kind:       broadcast.EventTeleportPeer,
			SenderPeer: peerID,
			Payload: map[string]interface{}{
				"locationId": key.LocationID,
				"position":   interior,
			},
			Recipients: []types.PeerID{peerID},
		},
		broadcast.Event{
			Kind:       broadcast.EventInstanceUpdate,
			SenderPeer: peerID,
			Payload: map[string]interface{}{
				"locationId": key.LocationID,
				"owner":      key.Owner,
				"occupants":  occupantList(inst),
			},
			Recipients: occupantList(inst),
		},
	)
	return events, nil
}

// Leave removes a peer from whatever instance it occupies.
func (r *Registry) Leave(peerID types.PeerID) {
	r.lock.Lock()
	key, ok := r.byPeer[peerID]
	if !ok {
		r.lock.Unlock()
		return
	}
	evt, publish := r.evictLocked(key, peerID)
	r.lock.Unlock()

	if publish {
		r.port.Publish(evt)
	}
}

func (r *Registry) evictLocked(key InstanceKey, peerID types.PeerID) (broadcast.Event, bool) {
	delete(r.byPeer, peerID)
	inst, ok := r.instances[key]
	if !ok {
		return broadcast.Event{}, false
	}
	delete(inst.occupants, peerID)
	if len(inst.occupants) == 0 {
		inst.emptySince = r.now()
		return broadcast.Event{}, false
	}
	return broadcast.Event{
		Kind:       broadcast.EventInstanceUpdate,
		SenderPeer: peerID,
		Payload: map[string]interface{}{
			"locationId": key.LocationID,
			"owner":      key.Owner,
			"occupants":  occupantList(inst),
		},
		Recipients: occupantList(inst),
	}, true
}

// InstanceOf returns the instance key a peer currently occupies.
func (r *Registry) InstanceOf(peerID types.PeerID) (InstanceKey, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	key, ok := r.byPeer[peerID]
	return key, ok
}

// Occupants returns the peers inside an instance.
func (r *Registry) Occupants(key InstanceKey) []types.PeerID {
	r.lock.RLock()
	defer r.lock.RUnlock()
	inst, ok := r.instances[key]
	if !ok {
		return nil
	}
	return occupantList(inst)
}

// Tick garbage-collects instances that have sat empty past the TTL.
func (r *Registry) Tick() {
	now := r.now()

	r.lock.Lock()
	var collected []InstanceKey
	for key, inst := range r.instances {
		if len(inst.occupants) == 0 && !inst.emptySince.IsZero() && now.Sub(inst.emptySince) > emptyInstanceTTL {
			collected = append(collected, key)
			delete(r.instances, key)
		}
	}
	r.lock.Unlock()

	for _, key := range collected {
		log.Debug("Garbage-collected empty instance %s/%d", key.LocationID, key.Owner)
		r.metrics.Inc("instances.collected")
		r.port.Publish(broadcast.Event{
			Kind: broadcast.EventInstanceDestroyed,
			Payload: map[string]interface{}{
				"locationId": key.LocationID,
				"owner":      key.Owner,
			},
		})
	}
}

func (r *Registry) publishAll(events []broadcast.Event) {
	for _, evt := range events {
		r.port.Publish(evt)
	}
}

func occupantList(inst *instance) []types.PeerID {
	occupants := make([]types.PeerID, 0, len(inst.occupants))
	for id := range inst.occupants {
		occupants = append(occupants, id)
	}
	return occupants
}
