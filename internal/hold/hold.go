// Package hold implements the hold registry (spec §4.5): an append-only,
// cookie-indexed store of per-client profile pins, with batch cleanup when
// a client disappears from the bus.
package hold

import (
	"sync"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

// Hold is a client-scoped request to pin the effective profile until
// released (spec §3).
type Hold struct {
	Cookie        uint32
	Profile       profile.Profile
	Reason        string
	ApplicationID string
	ClientName    string
}

// Registry stores Holds in insertion order, indexed by cookie. Cookies are
// issued from a monotonically increasing counter starting at 1 and are
// never reused within a run (spec §4.5, §9).
type Registry struct {
	mu      sync.Mutex
	nextID  uint32
	order   []uint32
	byID    map[uint32]*Hold
}

func NewRegistry() *Registry {
	return &Registry{nextID: 1, byID: make(map[uint32]*Hold)}
}

// Add inserts a new hold and returns its cookie. Duplicates of
// (clientName, p) are accepted; the registry does not deduplicate (spec
// §3's invariant i explicitly allows them).
func (r *Registry) Add(p profile.Profile, reason, applicationID, clientName string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cookie := r.nextID
	r.nextID++

	r.byID[cookie] = &Hold{
		Cookie:        cookie,
		Profile:       p,
		Reason:        reason,
		ApplicationID: applicationID,
		ClientName:    clientName,
	}
	r.order = append(r.order, cookie)

	return cookie
}

// Remove deletes the hold identified by cookie. ok is false if no such
// hold exists, or it belongs to a different client than owner (when owner
// is non-empty) — the caller maps that onto invalid-args (spec §8).
func (r *Registry) Remove(cookie uint32, owner string) (removed *Hold, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, present := r.byID[cookie]
	if !present {
		return nil, false
	}

	if owner != "" && h.ClientName != owner {
		return nil, false
	}

	delete(r.byID, cookie)
	r.removeFromOrderLocked(cookie)

	return h, true
}

// RemoveByClient removes every hold owned by clientName, in insertion
// order, and returns the removed holds in that order — used on bus
// name-owner-changed notifications (spec §4.5, §9 "client lifetime").
func (r *Registry) RemoveByClient(clientName string) []*Hold {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Hold

	for _, cookie := range append([]uint32(nil), r.order...) {
		h, present := r.byID[cookie]
		if !present || h.ClientName != clientName {
			continue
		}

		removed = append(removed, h)
		delete(r.byID, cookie)
		r.removeFromOrderLocked(cookie)
	}

	return removed
}

func (r *Registry) removeFromOrderLocked(cookie uint32) {
	for i, c := range r.order {
		if c == cookie {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}
}

// List returns every active hold in insertion order.
func (r *Registry) List() []*Hold {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Hold, 0, len(r.order))
	for _, cookie := range r.order {
		out = append(out, r.byID[cookie])
	}

	return out
}

// Len reports the number of active holds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}

// Derive computes the effective profile from the current hold set and the
// user-selected fallback, per the total order in spec §3: the winning hold
// is the one whose profile ranks highest, ties broken by insertion order.
func (r *Registry) Derive(userSelected profile.Profile) profile.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return userSelected
	}

	best := r.byID[r.order[0]].Profile

	for _, cookie := range r.order[1:] {
		p := r.byID[cookie].Profile
		if best.Less(p) {
			best = p
		}
	}

	return best
}
