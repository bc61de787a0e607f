package cdr

// Config holds the recognized CDR engine configuration keys (SPEC_FULL.md
// §6.3), with the documented defaults applied by NewConfig.
type Config struct {
	Enable           bool
	Debug            bool
	LogUnanswered    bool
	LogCongestion    bool
	EndBeforeHExten  bool
	InitiatedSeconds bool

	Batch         bool
	BatchSize     uint
	BatchTime     uint // seconds
	SchedulerOnly bool
	SafeShutdown  bool
}

// NewConfig returns a Config populated with the documented defaults.
func NewConfig() Config {
	return Config{
		Enable:           true,
		Debug:            false,
		LogUnanswered:    false,
		LogCongestion:    false,
		EndBeforeHExten:  false,
		InitiatedSeconds: false,
		Batch:            false,
		BatchSize:        100,
		BatchTime:        300,
		SchedulerOnly:    false,
		SafeShutdown:     true,
	}
}

// ConfigFromFields mirrors the recognized yaml keys of a source CDRConfig-shaped
// value onto a cdr.Config. It takes plain fields rather than importing the
// config package, so internal/cdr never depends on internal/config.
func ConfigFromFields(enable, debug, unanswered, congestion, endBeforeHExten, initiatedSeconds, batch bool, size, timeSeconds uint, schedulerOnly, safeShutdown bool) Config {
	return Config{
		Enable:           enable,
		Debug:            debug,
		LogUnanswered:    unanswered,
		LogCongestion:    congestion,
		EndBeforeHExten:  endBeforeHExten,
		InitiatedSeconds: initiatedSeconds,
		Batch:            batch,
		BatchSize:        size,
		BatchTime:        timeSeconds,
		SchedulerOnly:    schedulerOnly,
		SafeShutdown:     safeShutdown,
	}
}
