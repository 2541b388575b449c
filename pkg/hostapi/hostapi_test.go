package hostapi

import (
	"testing"

	"asr-session-core/pkg/vendorapi"
)

func TestWithDefaultsFillsZeroValuesOnly(t *testing.T) {
	cfg := Config{SampleRateHz: 8000}.WithDefaults()
	if cfg.SampleRateHz != 8000 {
		t.Fatalf("SampleRateHz = %d, want preserved 8000", cfg.SampleRateHz)
	}
	if cfg.Channels != 1 {
		t.Fatalf("Channels = %d, want default 1", cfg.Channels)
	}
	if cfg.SampleWidthBits != 16 {
		t.Fatalf("SampleWidthBits = %d, want default 16", cfg.SampleWidthBits)
	}
	if cfg.MutePkgDurationMs != 800 {
		t.Fatalf("MutePkgDurationMs = %d, want default 800", cfg.MutePkgDurationMs)
	}
	if cfg.FinalizeMode != vendorapi.FinalizeModeDisconnect {
		t.Fatalf("FinalizeMode = %q, want default disconnect", cfg.FinalizeMode)
	}
	if cfg.MinRetryDelayMs != 500 || cfg.MaxRetryDelayMs != 4000 {
		t.Fatalf("retry delays = %d/%d, want 500/4000", cfg.MinRetryDelayMs, cfg.MaxRetryDelayMs)
	}
}
