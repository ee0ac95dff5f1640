package places

import (
	"sync"

	"github.com/ternarybob/gusto/internal/interfaces"
)

// flightCall is one in-flight upstream fetch. Waiters block on done and
// read the broadcast outcome afterwards.
type flightCall struct {
	done    chan struct{}
	outcome *interfaces.PlacesSearchOutcome
	err     error
}

// flightGroup coalesces concurrent fetches per fingerprint: the first
// arriver executes fn, later arrivers wait on its done channel and share
// the result. The entry is removed once the call completes, so the next
// miss after completion fetches again.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

func newFlightGroup() *flightGroup {
	return &flightGroup{
		calls: make(map[string]*flightCall),
	}
}

// Do executes fn under the key, coalescing concurrent callers. The second
// return value reports whether the result was shared from another caller's
// fetch rather than produced by this one.
func (g *flightGroup) Do(key string, fn func() (*interfaces.PlacesSearchOutcome, error)) (*interfaces.PlacesSearchOutcome, bool, error) {
	g.mu.Lock()
	if call, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-call.done
		return call.outcome, true, call.err
	}

	call := &flightCall{done: make(chan struct{})}
	g.calls[key] = call
	g.mu.Unlock()

	call.outcome, call.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(call.done)

	return call.outcome, false, call.err
}

// Inflight returns the number of live fetches, for tests and health checks
func (g *flightGroup) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
