// Package config defines the configuration structure for the task engine.
//
// Configuration is organized into logical sections (Pool, Executor, Monitor, Metrics)
// and uses code generation via optgen to create functional option helpers.
//
// # Configuration Structure
//
//	Configuration
//	├── Pool       - Shared worker pool sizing and escalation
//	├── Executor   - Executor group priorities and backpressure
//	├── Monitor    - Stuck task watchdog
//	├── Metrics    - Prometheus export
//	├── LogFormat  - Logging format
//	└── LogLevel   - Logging verbosity
//
// # Pool Configuration
//
//	┌────────────────┬─────────┬──────────────────────────────────────────────┐
//	│ Key            │ Default │ Description                                  │
//	├────────────────┼─────────┼──────────────────────────────────────────────┤
//	│ name           │ "main"  │ Pool name used in logs and metric labels     │
//	│ max-poolable   │ 4       │ Workers kept alive between tasks             │
//	│ max-workers    │ 16      │ Initial cap on poolable plus detached        │
//	│ acquire-timeout│ 500ms   │ Wait before the cap is raised                │
//	│ acquire-retries│ 8       │ Escalations allowed per acquisition          │
//	│ cap-increment  │ 4       │ Workers added per escalation                 │
//	│ cap-decay-idle │ 10s     │ Quiet period before a raised cap decays      │
//	└────────────────┴─────────┴──────────────────────────────────────────────┘
//
// # Executor Configuration
//
//	┌──────────────────┬──────────┬────────────────────────────────────────────┐
//	│ Key              │ Default  │ Description                                │
//	├──────────────────┼──────────┼────────────────────────────────────────────┤
//	│ group-name       │ "engine" │ Executor group name                        │
//	│ priorities       │ [1,5,10] │ One bucket per level, created lazily       │
//	│ default-priority │ 5        │ Priority of tasks created without one      │
//	│ high-watermark   │ 10000    │ Queue length at which Submit blocks        │
//	│ low-watermark    │ 5000     │ Queue length at which Submit resumes       │
//	└──────────────────┴──────────┴────────────────────────────────────────────┘
//
// # Monitor Configuration
//
//	┌─────────────────────────┬─────────┬──────────────────────────────────────┐
//	│ Key                     │ Default │ Description                          │
//	├─────────────────────────┼─────────┼──────────────────────────────────────┤
//	│ enabled                 │ true    │ Run the watchdog                     │
//	│ polling-interval        │ 1s      │ Interval between samples             │
//	│ stuck-threshold         │ 5s      │ Running time before sampling a task  │
//	│ mark-as-probably-stuck  │ true    │ Release waiters of flagged tasks     │
//	│ termination-policy      │ "none"  │ none, interrupt or kill              │
//	│ log-status              │ false   │ Log a status line per sample         │
//	│ warnings-per-second     │ 5       │ Rate limit of stuck warnings         │
//	│ confirm-timeout         │ 30s     │ Wait for a terminated task to exit   │
//	└─────────────────────────┴─────────┴──────────────────────────────────────┘
//
// # Loading
//
// Keys are read through the Reader interface, which *viper.Viper implements,
// so values may come from a config file, TASK_ENGINE_* environment variables
// or command line flags declared by RegisterFlags:
//
//	v := viper.New()
//	config.RegisterFlags(cmd.Flags())
//	_ = v.BindPFlags(cmd.Flags())
//	cfg, err := config.Load(v)
//
// Load starts from the defaults, overrides the keys that are set and
// validates the result. Validate reports every problem at once.
//
// # Code Generation
//
// The package uses optgen to generate functional option helpers:
//
//	//go:generate go run github.com/ecordell/optgen -output zz_generated.configuration.go . Configuration Pool Executor Monitor Metrics
//
// Generated helpers include:
//
//   - NewConfigurationWithOptionsAndDefaults(...ConfigurationOption) - Create with defaults + options
//   - WithPool(Pool), WithMonitor(Monitor), etc. - Set nested structs
//   - DebugMap() - Returns map for debug logging (respects debugmap tags)
//
// # Debug Logging
//
//	log.Info("configuration loaded", zap.Any("config", cfg.DebugMap()))
package config
