package events

import "time"

// DispatcherConfig bundles the Dispatcher's optional tunables. Construct
// via DefaultDispatcherConfig and override fields as needed.
type DispatcherConfig struct {
	// Metrics mirrors Dispatcher.WithMetrics, for callers that prefer
	// constructing configuration up front.
	Metrics MetricsRecorder
}

// DefaultDispatcherConfig returns a DispatcherConfig with no metrics sink
// attached.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{}
}

// SchedulerConfig bundles ScheduledTaskRegistry's optional tunables.
type SchedulerConfig struct {
	// SweepPeriod is how often finished/cancelled handles are dropped.
	SweepPeriod time.Duration
	// Metrics, if set, receives the live handle count after every sweep.
	Metrics MetricsRecorder
}

// DefaultSchedulerConfig returns a SchedulerConfig swept at
// DefaultSweepPeriod with no metrics sink attached.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{SweepPeriod: DefaultSweepPeriod}
}

// NewScheduledTaskRegistryFromConfig constructs a ScheduledTaskRegistry per
// cfg, defaulting SweepPeriod to DefaultSweepPeriod if unset.
func NewScheduledTaskRegistryFromConfig(cfg SchedulerConfig) (*ScheduledTaskRegistry, error) {
	period := cfg.SweepPeriod
	if period <= 0 {
		period = DefaultSweepPeriod
	}
	r, err := NewScheduledTaskRegistry(period)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		r.WithMetrics(cfg.Metrics)
	}
	return r, nil
}
