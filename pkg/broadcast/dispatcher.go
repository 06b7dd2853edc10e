package broadcast

import (
	"sync"

	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/spatial"
	"github.com/duskworks/coopcore/pkg/types"
)

// Observer receives resolved outbound deliveries. The transport adapter is
// the primary observer; tests register in-memory observers.
type Observer interface {
	Deliver(peerID types.PeerID, event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(peerID types.PeerID, event Event)

func (f ObserverFunc) Deliver(peerID types.PeerID, event Event) {
	f(peerID, event)
}

// Dispatcher resolves recipients through the interest grid and fans events
// out to registered observers. It holds no subsystem state locks; observer
// registration has its own mutex so observers are never invoked while a
// state lock is held. Events published by a single peer are delivered to any
// one recipient in publication order.
// PriorityFunc reports whether a peer's state updates are currently urgent
// (downed, in combat, debuffed). The vitals layer supplies it.
type PriorityFunc func(types.PeerID) bool

type Dispatcher struct {
	grid          *spatial.InterestGrid
	defaultRadius float32
	metrics       *metrics.Registry

	priorityLock sync.RWMutex
	priority     PriorityFunc

	observersLock sync.RWMutex
	observers     []Observer
}

type NewDispatcherOptions struct {
	Grid          *spatial.InterestGrid
	DefaultRadius float32
	Metrics       *metrics.Registry
}

func NewDispatcher(opts NewDispatcherOptions) *Dispatcher {
	radius := opts.DefaultRadius
	if radius <= 0 {
		radius = 200
	}
	return &Dispatcher{
		grid:          opts.Grid,
		defaultRadius: radius,
		metrics:       opts.Metrics,
	}
}

// SetPriority sets the sender-priority hook. Events from a priority sender
// resolve against a doubled interest radius so their state reaches peers
// that tight culling would drop.
func (d *Dispatcher) SetPriority(fn PriorityFunc) {
	d.priorityLock.Lock()
	defer d.priorityLock.Unlock()
	d.priority = fn
}

func (d *Dispatcher) senderHasPriority(peerID types.PeerID) bool {
	if peerID == 0 {
		return false
	}
	d.priorityLock.RLock()
	fn := d.priority
	d.priorityLock.RUnlock()
	return fn != nil && fn(peerID)
}

// RegisterObserver adds an observer for resolved deliveries.
func (d *Dispatcher) RegisterObserver(observer Observer) {
	d.observersLock.Lock()
	defer d.observersLock.Unlock()
	d.observers = append(d.observers, observer)
}

// Publish resolves the event's recipients and delivers it to each observer.
func (d *Dispatcher) Publish(event Event) {
	recipients := d.resolveRecipients(event)
	d.metrics.Inc("broadcast.events")
	d.metrics.Add("broadcast.deliveries", int64(len(recipients)))

	d.observersLock.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.observersLock.RUnlock()

	for _, peerID := range recipients {
		for _, observer := range observers {
			observer.Deliver(peerID, event)
		}
	}
}

func (d *Dispatcher) resolveRecipients(event Event) []types.PeerID {
	if event.Recipients != nil {
		return event.Recipients
	}
	if event.FocalPosition == nil {
		return d.grid.AllPeers()
	}
	radius := event.RadiusHint
	if radius <= 0 {
		radius = d.defaultRadius
	}
	if d.senderHasPriority(event.SenderPeer) {
		radius *= 2
		d.metrics.Inc("broadcast.priority_events")
	}
	return d.grid.PeersWithin(*event.FocalPosition, radius)
}
