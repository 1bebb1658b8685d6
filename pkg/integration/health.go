package integration

import (
	"context"
	"sync"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// healthCheckTimeout bounds one upstream probe.
const healthCheckTimeout = 10 * time.Second

// healthState tracks the upstream availability as observed by the
// periodic probe. Starts healthy so a clean boot emits no transition.
type healthState struct {
	mu        sync.RWMutex
	up        bool
	checkedAt time.Time
	downSince time.Time
	orphans   int64
}

func newHealthState() healthState {
	return healthState{up: true}
}

func (h *healthState) healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.up
}

func (h *healthState) lastCheck() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.checkedAt
}

func (h *healthState) orphansReclaimed() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.orphans
}

func (h *healthState) addOrphans(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orphans += n
}

// observe records one probe result. Returns (transitioned, downtime):
// downtime is non-zero only on a down-to-up transition.
func (h *healthState) observe(up bool, at time.Time) (bool, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checkedAt = at
	if up == h.up {
		return false, 0
	}
	h.up = up
	if !up {
		h.downSince = at
		return true, 0
	}
	downtime := at.Sub(h.downSince)
	h.downSince = time.Time{}
	return true, downtime
}

// runHealthMonitor probes the upstream on a fixed interval, publishes
// connection lost/restored events on transitions and kicks off
// reconciliation after an outage ends.
func (e *Engine) runHealthMonitor(ctx context.Context) {
	for e.sleep(e.cfg.HealthCheckInterval) {
		if !e.enabled {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := e.api.CheckHealth(probeCtx)
		cancel()

		now := time.Now()
		transitioned, downtime := e.health.observe(err == nil, now)
		if !transitioned {
			continue
		}

		if err != nil {
			e.logger.Warn("HubSoft connection lost", "error", err)
			e.bus.Publish(ctx, domain.HubSoftConnectionLost{BaseEvent: domain.BaseEvent{At: now}})
			continue
		}

		e.logger.Info("HubSoft connection restored", "downtime", downtime)
		e.bus.Publish(ctx, domain.HubSoftConnectionRestored{
			BaseEvent: domain.BaseEvent{At: now},
			Downtime:  downtime,
		})

		if hook := e.recoveryHook(); hook != nil {
			e.spawn(func() { hook(ctx) })
		}
	}
}

// OnRecovery registers the callback invoked after the upstream comes
// back from an outage. Used to wire post-outage reconciliation.
func (e *Engine) OnRecovery(fn func(context.Context)) {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	e.onRecovery = fn
}

func (e *Engine) recoveryHook() func(context.Context) {
	e.pauseMu.RLock()
	defer e.pauseMu.RUnlock()
	return e.onRecovery
}
