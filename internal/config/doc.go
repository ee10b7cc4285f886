// Package config provides the injected configuration record for the
// reconciliation engine.
//
// Key features:
//   - YAML configuration file loading with Viper
//   - Environment variable override support (RAVENS_PERCH_* prefix)
//   - Hot reload with file system watching via ConfigWatcher
//   - Configuration validation with meaningful error messages
//
// Usage pattern:
//   - loader := NewConfigLoader()
//   - cfg, err := loader.LoadConfig(path)
//   - pass *cfg (or a sub-struct of it) to each component's constructor
package config
