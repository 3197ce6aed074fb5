package chat

import (
	"slices"
	"sync"

	"github.com/omochice/pvpgn-gateway/pkg/pvpgn"
)

// Roster is the set of users present in a session's current channel.
type Roster struct {
	mu    sync.Mutex
	users map[string]struct{}
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{users: make(map[string]struct{})}
}

// Apply updates the roster from ev and reports whether the front end must
// receive a new user list. Entering a channel always does, even when the
// roster was already empty.
func (r *Roster) Apply(ev pvpgn.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case pvpgn.KindChannel:
		clear(r.users)
		return true
	case pvpgn.KindUser, pvpgn.KindJoin:
		if ev.User == "" {
			return false
		}
		if _, ok := r.users[ev.User]; ok {
			return false
		}
		r.users[ev.User] = struct{}{}
		return true
	case pvpgn.KindLeave:
		if _, ok := r.users[ev.User]; !ok {
			return false
		}
		delete(r.users, ev.User)
		return true
	default:
		return false
	}
}

// Clear removes every user.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.users)
}

// List returns the users sorted ascending. The result is never nil.
func (r *Roster) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// Len returns the number of users.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
