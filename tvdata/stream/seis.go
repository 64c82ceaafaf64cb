package stream

import (
	"sync"
	"time"

	"github.com/tvdatafeedhq/tvdatafeed-go/tvdata"
)

// Seis is one tracked (symbol, exchange, interval) live subscription. The
// identity triple is immutable; the consumer set and the last delivered bar
// timestamp are guarded by the owning registry's lock.
type Seis struct {
	Symbol   string
	Exchange string
	Interval tvdata.Interval

	consumers map[*Consumer]struct{}
	lastBar   time.Time
}

type seisKey struct {
	symbol   string
	exchange string
	interval tvdata.Interval
}

func (s *Seis) key() seisKey {
	return seisKey{symbol: s.Symbol, exchange: s.Exchange, interval: s.Interval}
}

// intervalGroup collects the subscriptions sharing one polling cadence.
// nextWake advances by exactly one interval per service, anchored at group
// creation, so the cadence never drifts.
type intervalGroup struct {
	interval tvdata.Interval
	members  map[*Seis]struct{}
	nextWake time.Time
}

// registry is the shared subscription state: the seis map, the interval
// groups and their wake deadlines. One mutex guards all of it, held only
// for the duration of each mutation, never across a fetch.
type registry struct {
	mu     sync.Mutex
	seis   map[seisKey]*Seis
	groups map[tvdata.Interval]*intervalGroup
	wakeCh chan struct{}
}

func newRegistry() *registry {
	return &registry{
		seis:   make(map[seisKey]*Seis),
		groups: make(map[tvdata.Interval]*intervalGroup),
		wakeCh: make(chan struct{}, 1),
	}
}

// subscribe returns the existing Seis for the triple or creates and
// registers a new one. The new group's first wake is one interval from now.
func (r *registry) subscribe(symbol, exchange string, interval tvdata.Interval) *Seis {
	key := seisKey{symbol: symbol, exchange: exchange, interval: interval}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.seis[key]; ok {
		return existing
	}

	s := &Seis{
		Symbol:    symbol,
		Exchange:  exchange,
		Interval:  interval,
		consumers: make(map[*Consumer]struct{}),
	}
	r.seis[key] = s

	g, ok := r.groups[interval]
	if !ok {
		g = &intervalGroup{
			interval: interval,
			members:  make(map[*Seis]struct{}),
			nextWake: time.Now().Add(tvdata.IntervalDuration(interval)),
		}
		r.groups[interval] = g
		// A new group may carry an earlier deadline than whatever the
		// waiting loop is currently sleeping towards.
		r.wake()
	}
	g.members[s] = struct{}{}
	return s
}

func (r *registry) remove(s *Seis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(s)
}

func (r *registry) removeLocked(s *Seis) {
	delete(r.seis, s.key())
	if g, ok := r.groups[s.Interval]; ok {
		delete(g.members, s)
		if len(g.members) == 0 {
			delete(r.groups, s.Interval)
		}
	}
}

// wake nudges a blocked wait to re-evaluate its deadline.
func (r *registry) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// earliestWake returns the soonest group deadline, if any group exists.
func (r *registry) earliestWake() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var earliest time.Time
	found := false
	for _, g := range r.groups {
		if !found || g.nextWake.Before(earliest) {
			earliest = g.nextWake
			found = true
		}
	}
	return earliest, found
}

// wait blocks until at least one group's deadline has elapsed, returning
// true, or until stopCh closes, returning false. It wakes early when a new
// group with an earlier deadline is registered.
func (r *registry) wait(stopCh <-chan struct{}) bool {
	for {
		deadline, ok := r.earliestWake()
		if !ok {
			select {
			case <-stopCh:
				return false
			case <-r.wakeCh:
				continue
			}
		}

		d := time.Until(deadline)
		if d <= 0 {
			return true
		}
		timer := time.NewTimer(d)
		select {
		case <-stopCh:
			timer.Stop()
			return false
		case <-r.wakeCh:
			timer.Stop()
		case <-timer.C:
			return true
		}
	}
}

// expiredGroup is a snapshot of one due group's members, taken under the
// lock so the polling loop can fetch without holding it.
type expiredGroup struct {
	interval tvdata.Interval
	members  []*Seis
}

// expired collects every group whose deadline has elapsed and advances each
// one's nextWake by exactly one interval.
func (r *registry) expired(now time.Time) []expiredGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []expiredGroup
	for _, g := range r.groups {
		if g.nextWake.After(now) {
			continue
		}
		g.nextWake = g.nextWake.Add(tvdata.IntervalDuration(g.interval))

		snapshot := expiredGroup{interval: g.interval, members: make([]*Seis, 0, len(g.members))}
		for s := range g.members {
			snapshot.members = append(snapshot.members, s)
		}
		due = append(due, snapshot)
	}
	return due
}
