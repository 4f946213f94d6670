package pipeline

import (
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/config"
)

// OptionsFromConfig derives the resource options of a run from a job file.
// Linker and Metrics are left for the caller.
func OptionsFromConfig(cfg config.Config) Options {
	b := cfg.Engine.Buffers
	return Options{
		MainFolder:    cfg.MainFolder,
		HashAlgorithm: cfg.HashAlgorithm,
		RetryCount:    cfg.Engine.RetryCount,
		RetryWait:     time.Duration(cfg.Engine.RetryWaitSeconds) * time.Second,
		MinBuffer:     int64(b.MinKB) << 10,
		MaxBuffer:     int64(b.MaxMB) << 20,
		WindowSize:    int64(b.WindowMB) << 20,
		MemoryBudget:  int64(b.BudgetMB) << 20,
	}
}

// EngineConfigFromConfig sizes the stages from a job file.
func EngineConfigFromConfig(cfg config.Config) EngineConfig {
	e := cfg.Engine
	return EngineConfig{
		ReaderWorkers: e.ReaderWorkers,
		HasherWorkers: e.HasherWorkers,
		WriterWorkers: e.WriterWorkers,
		ReaderQueue:   e.ReaderQueue,
		HasherQueue:   e.HasherQueue,
		WriterQueue:   e.WriterQueue,
	}
}
