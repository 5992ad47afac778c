// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

// runtimeOptions holds configuration resolved at Runtime construction,
// corresponding to Runtime::create(options) in the reference design.
type runtimeOptions struct {
	workers         int
	timeDriver      bool
	ioDriver        bool
	blockingMin     int
	blockingMax     int
	logger          Logger
	metricsEnabled  bool
	terminateHandler func(error)
}

// RuntimeOption configures a Runtime instance.
type RuntimeOption interface {
	applyRuntime(*runtimeOptions) error
}

type runtimeOptionFunc func(*runtimeOptions) error

func (f runtimeOptionFunc) applyRuntime(o *runtimeOptions) error { return f(o) }

// WithWorkers sets the fixed number of worker goroutines (clamped to >= 1).
func WithWorkers(n int) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.workers = n
		return nil
	})
}

// WithTimeDriver enables or disables the TimeDriver (sleep/timeout/interval
// support). Enabled by default.
func WithTimeDriver(enabled bool) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.timeDriver = enabled
		return nil
	})
}

// WithIoDriver enables or disables the IoDriver (fd readiness support).
// Enabled by default.
func WithIoDriver(enabled bool) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.ioDriver = enabled
		return nil
	})
}

// WithBlockingPool configures the blocking-task worker pool bounds.
func WithBlockingPool(min, max int) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.blockingMin = min
		o.blockingMax = max
		return nil
	})
}

// WithLogger installs a structured Logger for runtime diagnostics. The
// Runtime logs worker panics through it and nothing else.
func WithLogger(logger Logger) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.logger = logger
		return nil
	})
}

// WithMetrics enables runtime metrics collection. The Runtime itself
// records only the run-queue depth, on every enqueue; task latency, the
// other queue gauges and TPS are not filled in by the Runtime. Adds
// minimal overhead; disable for zero-allocation hot paths.
func WithMetrics(enabled bool) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.metricsEnabled = enabled
		return nil
	})
}

// WithTerminateHandler installs Runtime.SetTerminateHandler's callback at
// construction time, invoked for exceptions escaping a task execution
// instead of the default fatal re-panic from the worker goroutine.
func WithTerminateHandler(fn func(error)) RuntimeOption {
	return runtimeOptionFunc(func(o *runtimeOptions) error {
		o.terminateHandler = fn
		return nil
	})
}

// resolveRuntimeOptions applies RuntimeOption instances over defaults.
func resolveRuntimeOptions(opts []RuntimeOption) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		workers:     1,
		timeDriver:  true,
		ioDriver:    true,
		blockingMin: 2,
		blockingMax: 128,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.blockingMin < 1 {
		cfg.blockingMin = 1
	}
	if cfg.blockingMax < cfg.blockingMin {
		cfg.blockingMax = cfg.blockingMin
	}
	return cfg, nil
}
