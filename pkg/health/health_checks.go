package health

import (
	"context"
	"runtime"
)

// Common health check functions

// SimpleCheck always reports healthy
func SimpleCheck(name string) CheckFunc {
	return func(context.Context) Check {
		return Check{Name: name, Status: StatusHealthy}
	}
}

// CatalogCheck is unhealthy while no network template is available
func CatalogCheck(networks func() []string) CheckFunc {
	return func(context.Context) Check {
		names := networks()
		check := Check{
			Name:    "catalog",
			Details: map[string]any{"networks": len(names)},
		}
		if len(names) == 0 {
			check.Status = StatusUnhealthy
			check.Message = "No network templates loaded"
		} else {
			check.Status = StatusHealthy
			check.Message = "Network templates loaded"
		}
		return check
	}
}

// DependencyCheck pings an external backend such as the result archive or
// the run history database. A failing optional dependency degrades the
// service instead of taking it out of rotation.
func DependencyCheck(name string, optional bool, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: name}
		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			if optional {
				check.Status = StatusDegraded
			}
			check.Message = err.Error()
			return check
		}
		check.Status = StatusHealthy
		check.Message = "Connected"
		return check
	}
}

// RunInfo describes the simulation currently running, if any
type RunInfo struct {
	Running bool
	RunID   string
	Network string
	T       float64
}

// SimulationCheck reports the simulation state. It is informational and
// always healthy.
func SimulationCheck(state func() RunInfo) CheckFunc {
	return func(context.Context) Check {
		info := state()
		check := Check{
			Name:    "simulation",
			Status:  StatusHealthy,
			Details: map[string]any{"running": info.Running},
		}
		if info.Running {
			check.Message = "Simulation running"
			check.Details["run_id"] = info.RunID
			check.Details["network"] = info.Network
			check.Details["t"] = info.T
		} else {
			check.Message = "Idle"
		}
		return check
	}
}

// MemoryCheck degrades when the heap takes more than 90% of the memory
// obtained from the OS
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}

// RuntimeMemory reads heap usage from the Go runtime
func RuntimeMemory() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}
