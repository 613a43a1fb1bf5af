package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cogloop/core/internal/logging"
)

// Default thresholds mirror the teacher's cpuwatcher.go idle/active split
// (3%/30% for per-process detection), scaled up for whole-host load: the
// consolidation workers should back off well before the host is pegged,
// not only once it is saturated.
const (
	defaultPollInterval = 5 * time.Second
	defaultCPUThreshold = 85.0
	defaultMemThreshold = 90.0
)

// HostWatcher polls host CPU and memory usage and reports whether the host
// has headroom for another consolidation pass. It satisfies the Gate
// interface consolidate workers accept for backpressure.
type HostWatcher struct {
	pollInterval time.Duration
	cpuThreshold float64
	memThreshold float64

	mu      sync.RWMutex
	allowed bool
}

func NewHostWatcher() *HostWatcher {
	return &HostWatcher{
		pollInterval: defaultPollInterval,
		cpuThreshold: defaultCPUThreshold,
		memThreshold: defaultMemThreshold,
		allowed:      true,
	}
}

// SetThresholds overrides the default load thresholds.
func (h *HostWatcher) SetThresholds(cpuPct, memPct float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cpuThreshold = cpuPct
	h.memThreshold = memPct
}

// Allow reports whether the host currently has headroom; consolidation
// workers check this before dequeuing and idle, without dequeuing, while
// it is false.
func (h *HostWatcher) Allow() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowed
}

// Run polls host metrics until ctx is cancelled, the form the supervisor
// runs this as its own Task.
func (h *HostWatcher) Run(ctx context.Context) {
	l := logging.For("worker.supervisor.hostwatch")
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.poll(l)
		}
	}
}

func (h *HostWatcher) poll(l zerolog.Logger) {
	cpuPct, err := cpu.Percent(0, false)
	if err != nil {
		l.Warn().Err(err).Msg("cpu sample failed, leaving gate unchanged")
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		l.Warn().Err(err).Msg("memory sample failed, leaving gate unchanged")
		return
	}

	h.mu.Lock()
	prev := h.allowed
	cpuOK := len(cpuPct) == 0 || cpuPct[0] < h.cpuThreshold
	memOK := vm.UsedPercent < h.memThreshold
	h.allowed = cpuOK && memOK
	next := h.allowed
	h.mu.Unlock()

	if next != prev {
		if next {
			l.Info().Msg("host load back under threshold, resuming consolidation")
		} else {
			l.Warn().Float64("cpu", safeFirst(cpuPct)).Float64("mem", vm.UsedPercent).Msg("host under load, backpressuring consolidation workers")
		}
	}
}

func safeFirst(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
