package timeline

import "testing"

func TestTotalUserMsIgnoresSilence(t *testing.T) {
	tl := New()
	tl.AddUser(100)
	tl.AddSilence(500)
	tl.AddUser(250)
	if got := tl.TotalUserMs(); got != 350 {
		t.Fatalf("TotalUserMs() = %d, want 350", got)
	}
}

func TestAudioBeforeMonotonicAndBounded(t *testing.T) {
	tl := New()
	tl.AddUser(1000) // [0,1000)
	tl.AddUser(1000) // [1000,2000)

	prev := int64(-1)
	for _, q := range []int64{-1, 0, 500, 999, 1000, 1500, 2000, 5000} {
		got := tl.AudioBefore(q)
		if got < prev {
			t.Fatalf("AudioBefore(%d) = %d, not monotonic (prev %d)", q, got, prev)
		}
		if got > tl.TotalUserMs() {
			t.Fatalf("AudioBefore(%d) = %d exceeds TotalUserMs %d", q, got, tl.TotalUserMs())
		}
		prev = got
	}
}

func TestAudioBeforeEdgeCases(t *testing.T) {
	tl := New()
	tl.AddUser(2000)

	if got := tl.AudioBefore(-5); got != 0 {
		t.Errorf("AudioBefore(negative) = %d, want 0", got)
	}
	if got := tl.AudioBefore(10_000); got != 2000 {
		t.Errorf("AudioBefore(beyond last) = %d, want 2000", got)
	}
	// Partial overlap into the single interval must not count it.
	if got := tl.AudioBefore(1000); got != 0 {
		t.Errorf("AudioBefore(mid-interval) = %d, want 0", got)
	}
}

func TestResetPreservesMonotonicityAcrossReconnect(t *testing.T) {
	tl := New()
	tl.AddUser(2000)
	tl.Reset()
	// pkg/session drives AddUser once per delivered chunk (100ms granularity
	// via pkg/chunker), not as one big interval, so a vendor timestamp can
	// fall on a chunk boundary instead of mid-interval.
	for i := 0; i < 10; i++ {
		tl.AddUser(100)
	}

	if got := tl.OffsetBeforeLastReset(); got != 2000 {
		t.Fatalf("OffsetBeforeLastReset() = %d, want 2000", got)
	}

	// spec.md §8 scenario 6: 2s of audio, reconnect, 1s more, vendor reports
	// start_ms=200 on the new connection; projected absolute start is 2200.
	if got := tl.Project(200); got != 2200 {
		t.Fatalf("Project(200) after reset = %d, want 2200", got)
	}

	// Once the full post-reset interval is behind the query point, the
	// projection includes all of it.
	if got := tl.Project(1000); got != 3000 {
		t.Fatalf("Project(1000) after reset = %d, want 3000", got)
	}
}

func TestResetAccumulatesAcrossMultipleReconnects(t *testing.T) {
	tl := New()
	tl.AddUser(500)
	tl.Reset()
	tl.AddUser(700)
	tl.Reset()
	tl.AddUser(300)

	if got := tl.OffsetBeforeLastReset(); got != 1200 {
		t.Fatalf("OffsetBeforeLastReset() = %d, want 1200", got)
	}
	if got := tl.Project(300); got != 1500 {
		t.Fatalf("Project(300) = %d, want 1500", got)
	}
}
