package ingest

import (
	"sync"
	"time"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

// ModeController tracks the orchestrator's operating mode. Transitions
// are explicit and audited; a failure-rate trip drops into local-queue,
// and sustained healthy probes recover back to normal.
type ModeController struct {
	mu     sync.Mutex
	mode   domain.DegradationMode
	reason string

	window    time.Duration
	trip      float64
	outcomes  []outcome
	healthyAt time.Time

	subs []func(from, to domain.DegradationMode)
}

type outcome struct {
	at time.Time
	ok bool
}

func NewModeController(trip float64, window time.Duration) *ModeController {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if trip <= 0 || trip > 1 {
		trip = 0.5
	}
	return &ModeController{
		mode:   domain.ModeNormal,
		window: window,
		trip:   trip,
	}
}

func (m *ModeController) Mode() domain.DegradationMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *ModeController) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// OnChange registers a callback invoked after every mode transition.
// Callbacks run outside the controller lock, so they may call back into
// the controller.
func (m *ModeController) OnChange(fn func(from, to domain.DegradationMode)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Set switches mode explicitly. The reason string is required so the
// audit trail explains every transition.
func (m *ModeController) Set(mode domain.DegradationMode, reason string) {
	m.mu.Lock()
	if m.mode == mode {
		m.mu.Unlock()
		return
	}
	from := m.mode
	log.Audit("degradation mode change", "from", string(from), "to", string(mode), "reason", reason)
	m.mode = mode
	m.reason = reason
	subs := make([]func(from, to domain.DegradationMode), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(from, mode)
	}
}

// RecordOutcome feeds the failure-rate tracker with one upstream call
// result. Crossing the trip threshold drops into local-queue mode.
func (m *ModeController) RecordOutcome(ok bool) {
	m.mu.Lock()

	now := time.Now()
	m.outcomes = append(m.outcomes, outcome{at: now, ok: ok})
	m.pruneLocked(now)

	failures := 0
	for _, o := range m.outcomes {
		if !o.ok {
			failures++
		}
	}
	// A couple of early failures should not trip the breaker.
	if len(m.outcomes) < 4 || float64(failures)/float64(len(m.outcomes)) < m.trip || m.mode != domain.ModeNormal {
		m.mu.Unlock()
		return
	}
	from := m.mode
	log.Audit("degradation mode change",
		"from", string(from), "to", string(domain.ModeLocalQueue),
		"reason", "upstream failure rate exceeded threshold")
	m.mode = domain.ModeLocalQueue
	m.reason = "upstream failure rate exceeded threshold"
	subs := make([]func(from, to domain.DegradationMode), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(from, domain.ModeLocalQueue)
	}
}

// RecordProbe feeds health-probe results. A healthy stretch spanning the
// recovery window switches back to normal automatically.
func (m *ModeController) RecordProbe(ok bool) {
	m.mu.Lock()

	now := time.Now()
	if !ok {
		m.healthyAt = time.Time{}
		m.mu.Unlock()
		return
	}
	if m.healthyAt.IsZero() {
		m.healthyAt = now
		m.mu.Unlock()
		return
	}
	if m.mode == domain.ModeNormal || now.Sub(m.healthyAt) < m.window {
		m.mu.Unlock()
		return
	}
	from := m.mode
	log.Audit("degradation mode change",
		"from", string(from), "to", string(domain.ModeNormal),
		"reason", "health probes stable through recovery window")
	m.mode = domain.ModeNormal
	m.reason = "recovered"
	m.outcomes = nil
	subs := make([]func(from, to domain.DegradationMode), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(from, domain.ModeNormal)
	}
}

func (m *ModeController) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.window)
	kept := m.outcomes[:0]
	for _, o := range m.outcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	m.outcomes = kept
}
