package router

import (
	"net/http"
	"sync/atomic"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/health"
)

// Pending stands in for the tile routes while the source initializes. It
// answers 503 until Set installs the real routes.
type Pending struct {
	readiness health.ReadinessReporter
	next      atomic.Pointer[http.Handler]
}

// NewPending returns a Pending reporting the state of readiness in its 503
// responses.
func NewPending(readiness health.ReadinessReporter) *Pending {
	return &Pending{readiness: readiness}
}

// Set installs h. Requests after Set are served by h.
func (p *Pending) Set(h http.Handler) { p.next.Store(&h) }

func (p *Pending) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h := p.next.Load(); h != nil {
		(*h).ServeHTTP(w, r)
		return
	}
	state := "initializing"
	if p.readiness != nil {
		_, state = p.readiness.Readiness()
	}
	w.Header().Set("Retry-After", "5")
	http.Error(w, "tile source not ready: "+state, http.StatusServiceUnavailable)
}
