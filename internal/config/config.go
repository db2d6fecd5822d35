package config

import "time"

//go:generate go run github.com/ecordell/optgen -output zz_generated.configuration.go . Configuration Pool Executor Monitor Metrics

type Configuration struct {
	Pool      Pool     `debugmap:"visible"`
	Executor  Executor `debugmap:"visible"`
	Monitor   Monitor  `debugmap:"visible"`
	Metrics   Metrics  `debugmap:"visible"`
	LogFormat string   `debugmap:"visible" default:"console"`
	LogLevel  string   `debugmap:"visible" default:"info"`
}

type Pool struct {
	Name           string        `debugmap:"visible" default:"main"`
	MaxPoolable    int           `debugmap:"visible" default:"4"`
	MaxWorkers     int           `debugmap:"visible" default:"16"`
	AcquireTimeout time.Duration `debugmap:"visible" default:"500ms"`
	AcquireRetries int           `debugmap:"visible" default:"8"`
	CapIncrement   int           `debugmap:"visible" default:"4"`
	CapDecayIdle   time.Duration `debugmap:"visible" default:"10s"`
}

type Executor struct {
	GroupName       string `debugmap:"visible" default:"engine"`
	Priorities      []int  `debugmap:"visible" default:"[1,5,10]"`
	DefaultPriority int    `debugmap:"visible" default:"5"`
	HighWatermark   int    `debugmap:"visible" default:"10000"`
	LowWatermark    int    `debugmap:"visible" default:"5000"`
}

type Monitor struct {
	Enabled             bool          `debugmap:"visible" default:"true"`
	PollingInterval     time.Duration `debugmap:"visible" default:"1s"`
	StuckThreshold      time.Duration `debugmap:"visible" default:"5s"`
	MarkAsProbablyStuck bool          `debugmap:"visible" default:"true"`
	TerminationPolicy   string        `debugmap:"visible" default:"none"`
	LogStatus           bool          `debugmap:"visible" default:"false"`
	WarningsPerSecond   float64       `debugmap:"visible" default:"5"`
	ConfirmTimeout      time.Duration `debugmap:"visible" default:"30s"`
}

type Metrics struct {
	Export    bool   `debugmap:"visible" default:"true"`
	Namespace string `debugmap:"visible" default:"task_engine"`
}
