package config

import "fmt"

// validateConfig rejects a handful of values that would otherwise produce
// confusing failures deep inside the Reconciler (zero tick interval spins
// the control loop; a negative backoff cap breaks the retry table).
func validateConfig(c *Config) error {
	if c.Store.Directory == "" {
		return fmt.Errorf("store.directory must not be empty")
	}
	if c.Reconciler.TickInterval <= 0 {
		return fmt.Errorf("reconciler.tick_interval must be positive, got %f", c.Reconciler.TickInterval)
	}
	if c.Reconciler.TickBudget <= 0 {
		return fmt.Errorf("reconciler.tick_budget must be positive, got %f", c.Reconciler.TickBudget)
	}
	if c.Reconciler.BackoffBase <= 0 || c.Reconciler.BackoffCap < c.Reconciler.BackoffBase {
		return fmt.Errorf("reconciler backoff bounds invalid: base=%f cap=%f", c.Reconciler.BackoffBase, c.Reconciler.BackoffCap)
	}
	if c.Reconciler.MaxFanOut <= 0 {
		return fmt.Errorf("reconciler.max_fan_out must be positive, got %d", c.Reconciler.MaxFanOut)
	}
	if c.StreamServer.Host == "" {
		return fmt.Errorf("stream_server.host must not be empty")
	}
	return nil
}
