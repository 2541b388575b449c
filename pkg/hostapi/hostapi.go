// Package hostapi defines the surface the Session Orchestrator (C7)
// exposes to its embedding host: the session-wide Config (spec.md §6) and
// the EmissionSink the orchestrator calls to hand results, errors, and
// metrics back out, generalizing the teacher's flag-driven
// cmd/server/main.go configuration style into a typed struct plus a
// handler interface in place of direct HTTP writes.
package hostapi

import "asr-session-core/pkg/vendorapi"

// Config is the per-session configuration, spec.md §6. Fields mirror the
// original extensions' property bag, given explicit names and defaults
// instead of a dynamic dict.
type Config struct {
	VendorURL       string
	VendorParams    map[string]any
	Dump            bool
	DumpPath        string
	SampleRateHz    int
	Channels        int
	SampleWidthBits int

	MutePkgDurationMs       int
	EnableUtteranceGrouping bool
	FinalizeMode            vendorapi.FinalizeMode

	MinRetryDelayMs int
	MaxRetryDelayMs int

	EnableSoftVad bool
	Metadata      map[string]any
}

// WithDefaults fills in spec.md §6's documented defaults for any field left
// at its zero value, returning a copy so the caller's Config is untouched.
// EnableUtteranceGrouping is not defaulted: a false value is kept as is.
func (c Config) WithDefaults() Config {
	out := c
	if out.SampleRateHz == 0 {
		out.SampleRateHz = 16000
	}
	if out.Channels == 0 {
		out.Channels = 1
	}
	if out.SampleWidthBits == 0 {
		out.SampleWidthBits = 16
	}
	if out.MutePkgDurationMs == 0 {
		out.MutePkgDurationMs = 800
	}
	if out.FinalizeMode == "" {
		out.FinalizeMode = vendorapi.FinalizeModeDisconnect
	}
	if out.MinRetryDelayMs == 0 {
		out.MinRetryDelayMs = 500
	}
	if out.MaxRetryDelayMs == 0 {
		out.MaxRetryDelayMs = 4000
	}
	return out
}

// EmissionSink receives everything the orchestrator produces for its host,
// spec.md §6's asr_result / asr_error / asr_finalize_end / metrics events.
type EmissionSink interface {
	EmitResult(text string, isFinal bool, absoluteStartMs, durationMs int64, language string, metadata map[string]any)
	EmitError(err error)
	EmitFinalizeEnd(finalizeID string, metadata map[string]any)
	EmitMetrics(twoPassDelayMs, softTwoPassDelayMs int64)
}
