package audio

import (
	"log/slog"
	"sync"
)

// Route tracks loudspeaker audio routing. A session engages the speaker for
// its duration and restores the previous routing on teardown; no other part
// of the host may alter routing while a session holds it.
type Route struct {
	mu      sync.Mutex
	logger  *slog.Logger
	engaged bool
}

// NewRoute returns a Route in the restored state.
func NewRoute(logger *slog.Logger) *Route {
	if logger == nil {
		logger = slog.Default()
	}
	return &Route{logger: logger}
}

// EngageSpeaker switches output to the loudspeaker. Idempotent.
func (r *Route) EngageSpeaker() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engaged {
		return
	}
	r.engaged = true
	r.logger.Info("audio routing: loudspeaker engaged")
}

// Restore reverts to the default routing. Idempotent.
func (r *Route) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.engaged {
		return
	}
	r.engaged = false
	r.logger.Info("audio routing: restored")
}

// Engaged reports whether the loudspeaker is currently engaged.
func (r *Route) Engaged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engaged
}
