package assembler

import (
	"testing"
	"time"

	"asr-session-core/pkg/timeline"
	"asr-session-core/pkg/vendorapi"
)

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	old := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = old })
}

func TestGroupingMergesAdjacentSameFinalityRuns(t *testing.T) {
	freezeNow(t, time.Unix(0, 0))
	tl := timeline.New()
	tl.AddUser(5000)
	a := New(true, false, tl, nil, nil)

	batch := vendorapi.ResultBatch{
		Utterances: []vendorapi.Utterance{
			{Text: "hello ", StartMs: 0, EndMs: 100, IsFinal: false},
			{Text: "world", StartMs: 100, EndMs: 200, IsFinal: false},
			{Text: "this ", StartMs: 200, EndMs: 300, IsFinal: true},
			{Text: "is a", StartMs: 300, EndMs: 450, IsFinal: true},
			{Text: "test", StartMs: 450, EndMs: 500, IsFinal: false},
		},
	}
	results, hasFinal := a.Process(batch)
	if !hasFinal {
		t.Fatal("expected hasFinal true")
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 runs", len(results))
	}
	if results[0].Text != "helloworld" || results[0].IsFinal {
		t.Fatalf("run 0 = %+v", results[0])
	}
	if results[1].Text != "thisis a" || !results[1].IsFinal {
		t.Fatalf("run 1 = %+v", results[1])
	}
	if results[1].DurationMs != 250 {
		t.Fatalf("run 1 duration = %d, want 250 (last.EndMs - first.StartMs)", results[1].DurationMs)
	}
	if results[2].Text != "test" || results[2].IsFinal {
		t.Fatalf("run 2 = %+v", results[2])
	}
}

// spec.md §8 scenario 2: a literal 6-utterance batch with grouping enabled
// must merge into 4 runs with the given texts, finality, and timing.
func TestSpecScenario2GroupingEnabledLiteralFixture(t *testing.T) {
	tl := timeline.New()
	for i := 0; i < 60; i++ {
		tl.AddUser(100) // 6000ms in 100ms chunks, matching pkg/session's real granularity.
	}
	a := New(true, false, tl, nil, nil)

	batch := vendorapi.ResultBatch{
		Utterances: []vendorapi.Utterance{
			{Text: "hello", StartMs: 0, EndMs: 1000, IsFinal: true},
			{Text: "world", StartMs: 1000, EndMs: 2000, IsFinal: true},
			{Text: "this", StartMs: 2000, EndMs: 3000, IsFinal: false},
			{Text: "is", StartMs: 3000, EndMs: 4000, IsFinal: false},
			{Text: "test", StartMs: 4000, EndMs: 5000, IsFinal: true},
			{Text: "example", StartMs: 5000, EndMs: 6000, IsFinal: false},
		},
	}
	results, hasFinal := a.Process(batch)
	if !hasFinal {
		t.Fatal("expected hasFinal true")
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4 runs", len(results))
	}

	want := []struct {
		text       string
		start, dur int64
		final      bool
	}{
		{"helloworld", 0, 2000, true},
		{"thisis", 2000, 2000, false},
		{"test", 4000, 1000, true},
		{"example", 5000, 1000, false},
	}
	const tolerance = 100
	for i, w := range want {
		r := results[i]
		if r.Text != w.text || r.IsFinal != w.final || r.DurationMs != w.dur {
			t.Fatalf("run %d = %+v, want text=%q final=%v dur=%d", i, r, w.text, w.final, w.dur)
		}
		if diff := r.AbsoluteStartMs - w.start; diff < -tolerance || diff > tolerance {
			t.Fatalf("run %d start_ms = %d, want %d ± %dms", i, r.AbsoluteStartMs, w.start, tolerance)
		}
	}
}

// spec.md §8 scenario 3: the same literal fixture with grouping disabled
// yields one result per utterance, in order, each keeping its own timing.
func TestSpecScenario3GroupingDisabledLiteralFixture(t *testing.T) {
	tl := timeline.New()
	for i := 0; i < 60; i++ {
		tl.AddUser(100)
	}
	a := New(false, false, tl, nil, nil)

	batch := vendorapi.ResultBatch{
		Utterances: []vendorapi.Utterance{
			{Text: "hello", StartMs: 0, EndMs: 1000, IsFinal: true},
			{Text: "world", StartMs: 1000, EndMs: 2000, IsFinal: true},
			{Text: "this", StartMs: 2000, EndMs: 3000, IsFinal: false},
			{Text: "is", StartMs: 3000, EndMs: 4000, IsFinal: false},
			{Text: "test", StartMs: 4000, EndMs: 5000, IsFinal: true},
			{Text: "example", StartMs: 5000, EndMs: 6000, IsFinal: false},
		},
	}
	results, hasFinal := a.Process(batch)
	if !hasFinal {
		t.Fatal("expected hasFinal true")
	}
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6 (one per utterance)", len(results))
	}

	want := []struct {
		text       string
		start, dur int64
		final      bool
	}{
		{"hello", 0, 1000, true},
		{"world", 1000, 1000, true},
		{"this", 2000, 1000, false},
		{"is", 3000, 1000, false},
		{"test", 4000, 1000, true},
		{"example", 5000, 1000, false},
	}
	const tolerance = 100
	for i, w := range want {
		r := results[i]
		if r.Text != w.text || r.IsFinal != w.final || r.DurationMs != w.dur {
			t.Fatalf("run %d = %+v, want text=%q final=%v dur=%d", i, r, w.text, w.final, w.dur)
		}
		if diff := r.AbsoluteStartMs - w.start; diff < -tolerance || diff > tolerance {
			t.Fatalf("run %d start_ms = %d, want %d ± %dms", i, r.AbsoluteStartMs, w.start, tolerance)
		}
	}
}

func TestGroupingDisabledEmitsOnePerUtterance(t *testing.T) {
	tl := timeline.New()
	a := New(false, false, tl, nil, nil)
	batch := vendorapi.ResultBatch{
		Utterances: []vendorapi.Utterance{
			{Text: "a", StartMs: 0, EndMs: 10, IsFinal: false},
			{Text: "b", StartMs: 10, EndMs: 20, IsFinal: false},
		},
	}
	results, _ := a.Process(batch)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestInvalidUtterancesAreFiltered(t *testing.T) {
	tl := timeline.New()
	a := New(true, false, tl, nil, nil)
	batch := vendorapi.ResultBatch{
		OverallText: "fallback",
		Utterances: []vendorapi.Utterance{
			{Text: "   ", StartMs: 0, EndMs: 10},
			{Text: "ok", StartMs: -1, EndMs: -1},
		},
	}
	results, hasFinal := a.Process(batch)
	if hasFinal {
		t.Fatal("expected hasFinal false")
	}
	if len(results) != 1 || results[0].Text != "fallback" {
		t.Fatalf("expected single passthrough result, got %+v", results)
	}
}

func TestTwoPassMetricsEmittedOnHardVadFinal(t *testing.T) {
	tl := timeline.New()
	base := time.Unix(100, 0)
	var got Metrics
	sink := func(m Metrics) { got = m }
	a := New(false, true, tl, sink, nil)

	freezeNow(t, base)
	a.Process(vendorapi.ResultBatch{Utterances: []vendorapi.Utterance{
		{Text: "partial", StartMs: 0, EndMs: 100, Additions: map[string]any{"source": "stream"}},
	}})

	freezeNow(t, base.Add(200*time.Millisecond))
	a.Process(vendorapi.ResultBatch{Utterances: []vendorapi.Utterance{
		{Text: "soft", StartMs: 0, EndMs: 100, Additions: map[string]any{"source": "two_pass", "invoke_type": "soft_vad"}},
	}})

	freezeNow(t, base.Add(500*time.Millisecond))
	a.Process(vendorapi.ResultBatch{Utterances: []vendorapi.Utterance{
		{Text: "final", StartMs: 0, EndMs: 100, IsFinal: true, Additions: map[string]any{"source": "two_pass", "invoke_type": "hard_vad"}},
	}})

	if got.TwoPassDelayMs != 500 {
		t.Fatalf("TwoPassDelayMs = %d, want 500", got.TwoPassDelayMs)
	}
	if got.SoftTwoPassDelayMs != 200 {
		t.Fatalf("SoftTwoPassDelayMs = %d, want 200", got.SoftTwoPassDelayMs)
	}
}

func TestSoftTwoPassDelayIsMinusOneWhenSoftVadNeverSeen(t *testing.T) {
	tl := timeline.New()
	base := time.Unix(0, 0)
	var got Metrics
	a := New(false, true, tl, func(m Metrics) { got = m }, nil)

	freezeNow(t, base)
	a.Process(vendorapi.ResultBatch{Utterances: []vendorapi.Utterance{
		{Text: "partial", StartMs: 0, EndMs: 100, Additions: map[string]any{"source": "stream"}},
	}})
	freezeNow(t, base.Add(300*time.Millisecond))
	a.Process(vendorapi.ResultBatch{Utterances: []vendorapi.Utterance{
		{Text: "final", StartMs: 0, EndMs: 100, IsFinal: true, Additions: map[string]any{"source": "two_pass", "invoke_type": "hard_vad"}},
	}})

	if got.SoftTwoPassDelayMs != -1 {
		t.Fatalf("SoftTwoPassDelayMs = %d, want -1", got.SoftTwoPassDelayMs)
	}
}

func TestNonFinalMetadataRestrictedToInvokeTypeAndSource(t *testing.T) {
	tl := timeline.New()
	a := New(false, false, tl, nil, map[string]any{"session_id": "s1"})
	results, _ := a.Process(vendorapi.ResultBatch{Utterances: []vendorapi.Utterance{
		{Text: "x", StartMs: 0, EndMs: 10, Additions: map[string]any{
			"source": "stream", "invoke_type": "vad", "secret": "drop-me",
		}},
	}})
	md := results[0].Metadata
	if md["session_id"] != "s1" || md["source"] != "stream" || md["invoke_type"] != "vad" {
		t.Fatalf("metadata = %+v", md)
	}
	if _, present := md["secret"]; present {
		t.Fatalf("metadata leaked non-allowed key: %+v", md)
	}
}
