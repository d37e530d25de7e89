package logship

import (
	"runtime"

	"github.com/bft-labs/logship/pkg/log"
)

// ResourceGatingConfig holds configuration options for resource gating.
// While the host looks busy, batches that are only due by size are held
// back; batches due by MaxBatchAge are always sent.
type ResourceGatingConfig struct {
	Enabled bool

	// CPUThreshold is the load fraction (0.0-1.0) above which sending is
	// delayed. Default: 0.85
	CPUThreshold float64
}

// DefaultResourceGatingConfig returns an enabled gate with default thresholds.
func DefaultResourceGatingConfig() ResourceGatingConfig {
	return ResourceGatingConfig{
		Enabled:      true,
		CPUThreshold: 0.85,
	}
}

// WithResourceGatingConfig enables resource gating with the specified configuration.
//
//	l, err := logship.New(cfg,
//	    logship.WithResourceGatingConfig(logship.ResourceGatingConfig{
//	        Enabled:      true,
//	        CPUThreshold: 0.90,
//	    }),
//	)
func WithResourceGatingConfig(cfg ResourceGatingConfig) Option {
	if !cfg.Enabled {
		return func(o *options) {}
	}
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = 0.85
	}
	return func(o *options) {
		o.resourceGatingConfig = &cfg
	}
}

// goroutinesPerCPUAtFullLoad maps goroutine count to an approximate load.
const goroutinesPerCPUAtFullLoad = 12.0

// resourceGate implements ports.ResourceGate using goroutine count per CPU
// as a proxy for load.
type resourceGate struct {
	threshold  float64
	logger     log.Logger
	goroutines func() int
	cpus       func() int
}

func newResourceGate(cfg ResourceGatingConfig, logger log.Logger) *resourceGate {
	return &resourceGate{
		threshold:  cfg.CPUThreshold,
		logger:     log.OrNoop(logger),
		goroutines: runtime.NumGoroutine,
		cpus:       runtime.NumCPU,
	}
}

// OK reports whether the estimated load is at or below the threshold.
func (g *resourceGate) OK() bool {
	n := g.goroutines()
	cpus := g.cpus()
	if cpus <= 0 {
		cpus = 1
	}

	load := min(float64(n)/float64(cpus)/goroutinesPerCPUAtFullLoad, 1.0)
	if load > g.threshold {
		g.logger.Debug("resource gate: high system load, delaying send",
			log.Component("resourcegate"),
			log.Int("goroutines", n),
			log.Int("cpus", cpus),
			log.Float64("approx_load", load),
			log.Float64("threshold", g.threshold),
		)
		return false
	}
	return true
}
