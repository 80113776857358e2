package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry tracks the live sessions of this process by call id. A session
// leaves the registry on its own once it closes.
type Registry struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{log: log, sessions: make(map[string]*Orchestrator)}
}

// Register makes o the live session for its call id. A previous session
// for the same id (a transport reconnect) is closed.
func (r *Registry) Register(o *Orchestrator) {
	id := o.CallID()
	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = o
	r.mu.Unlock()

	if prev != nil && prev != o {
		r.log.WithField("call_id", id).Info("replacing existing session for call")
		prev.Close(ReasonReplaced)
	}

	go func() {
		<-o.Done()
		r.Evict(o)
	}()
}

func (r *Registry) Lookup(callID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.sessions[callID]
	return o, ok
}

// Evict removes o if it is still the registered session for its call id.
func (r *Registry) Evict(o *Orchestrator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[o.CallID()]; ok && cur == o {
		delete(r.sessions, o.CallID())
		return true
	}
	return false
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every live call and waits for their background writes, or
// until ctx is done.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		live = append(live, o)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, o := range live {
		wg.Add(1)
		go func(o *Orchestrator) {
			defer wg.Done()
			o.Shutdown()
			o.Wait()
		}(o)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.WithField("sessions", len(live)).Info("all sessions closed")
	case <-ctx.Done():
		r.log.WithError(ctx.Err()).Warn("gave up waiting for sessions to close")
	}
}
