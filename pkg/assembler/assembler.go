// Package assembler implements the Result Assembler (C6): it validates and
// groups vendor utterance fragments into host-facing results, projects
// their timestamps through the audio timeline, and computes the two-pass
// latency metrics described by spec.md §4.6. Grounded on the original
// bytedance_llm_based_asr extension's utterance-grouping test fixtures
// (adjacent same-is_final runs, concatenation order) and spec.md's own
// grouping/metrics contract.
package assembler

import (
	"strings"
	"time"

	"asr-session-core/pkg/timeline"
	"asr-session-core/pkg/vendorapi"
)

// Result is one host-facing emission, spec.md §6's asr_result shape.
type Result struct {
	Text            string
	IsFinal         bool
	AbsoluteStartMs int64
	DurationMs      int64
	Language        string
	Metadata        map[string]any
}

// Metrics is the two-pass latency measurement from spec.md §4.6 step 2.
type Metrics struct {
	TwoPassDelayMs     int64
	SoftTwoPassDelayMs int64 // -1 if soft_vad was never recorded for this utterance.
}

// MetricsSink receives a Metrics value whenever a hard_vad final utterance
// completes a two-pass cycle.
type MetricsSink func(Metrics)

// nowFunc is overridable in tests; defaults to time.Now.
var nowFunc = time.Now

// Assembler is not safe for concurrent use; owned exclusively by the
// session's event loop.
type Assembler struct {
	grouping     bool
	softVadOn    bool
	timeline     *timeline.Timeline
	metricsSink  MetricsSink
	baseMetadata map[string]any

	tStream time.Time
	tSoft   time.Time
}

// New returns an Assembler. tl must be the same Timeline instance the
// session orchestrator mutates with AddUser/Reset. baseMetadata
// is merged into every non-final result's metadata (spec.md §4.6 step 5).
func New(grouping, softVadOn bool, tl *timeline.Timeline, metricsSink MetricsSink, baseMetadata map[string]any) *Assembler {
	return &Assembler{
		grouping:     grouping,
		softVadOn:    softVadOn,
		timeline:     tl,
		metricsSink:  metricsSink,
		baseMetadata: baseMetadata,
	}
}

// Process applies spec.md §4.6 steps 1-6 to one ResultBatch. It returns the
// results to emit, in order, and whether at least one of them is final
// (the orchestrator uses that to decide whether to call
// on_final_batch_drained / send_asr_finalize_end).
func (a *Assembler) Process(batch vendorapi.ResultBatch) (results []Result, hasFinal bool) {
	valid := a.validUtterances(batch.Utterances)

	if len(valid) == 0 {
		// Best-effort passthrough for an empty batch, spec.md §4.6 tie-break.
		return []Result{{
			Text:            batch.OverallText,
			IsFinal:         false,
			AbsoluteStartMs: a.timeline.Project(batch.OverallStartMs),
			DurationMs:      batch.OverallDurationMs,
			Language:        batch.Language,
			Metadata:        a.mergedMetadata(nil, false),
		}}, false
	}

	for _, u := range valid {
		a.recordTwoPass(u)
	}

	var runs [][]vendorapi.Utterance
	if a.grouping {
		runs = groupAdjacentRuns(valid)
	} else {
		for _, u := range valid {
			runs = append(runs, []vendorapi.Utterance{u})
		}
	}

	for _, run := range runs {
		first, last := run[0], run[len(run)-1]
		var text strings.Builder
		for _, u := range run {
			text.WriteString(strings.TrimSpace(u.Text))
		}
		r := Result{
			Text:            text.String(),
			IsFinal:         last.IsFinal,
			AbsoluteStartMs: a.timeline.Project(first.StartMs),
			DurationMs:      last.EndMs - first.StartMs,
			Language:        batch.Language,
			Metadata:        a.mergedMetadata(last.Additions, last.IsFinal),
		}
		results = append(results, r)
		if r.IsFinal {
			hasFinal = true
		}
	}
	return results, hasFinal
}

func (a *Assembler) validUtterances(utterances []vendorapi.Utterance) []vendorapi.Utterance {
	var out []vendorapi.Utterance
	for _, u := range utterances {
		trimmed := strings.TrimSpace(u.Text)
		if u.StartMs == -1 && u.EndMs == -1 {
			continue
		}
		if !u.Valid(trimmed) {
			continue
		}
		u.Text = trimmed
		out = append(out, u)
	}
	return out
}

// groupAdjacentRuns groups a maximal contiguous sequence of utterances that
// share the same IsFinal value, preserving vendor order.
func groupAdjacentRuns(utterances []vendorapi.Utterance) [][]vendorapi.Utterance {
	var runs [][]vendorapi.Utterance
	for _, u := range utterances {
		if len(runs) > 0 {
			last := runs[len(runs)-1]
			if last[0].IsFinal == u.IsFinal {
				runs[len(runs)-1] = append(last, u)
				continue
			}
		}
		runs = append(runs, []vendorapi.Utterance{u})
	}
	return runs
}

func (a *Assembler) mergedMetadata(additions map[string]any, isFinal bool) map[string]any {
	out := map[string]any{}
	for k, v := range a.baseMetadata {
		out[k] = v
	}
	if isFinal {
		for k, v := range additions {
			out[k] = v
		}
		return out
	}
	// Non-final results are limited to invoke_type/source plus session metadata.
	if v, ok := additions["invoke_type"]; ok {
		out["invoke_type"] = v
	}
	if v, ok := additions["source"]; ok {
		out["source"] = v
	}
	return out
}

func (a *Assembler) recordTwoPass(u vendorapi.Utterance) {
	source, _ := u.Additions["source"].(string)
	invokeType, _ := u.Additions["invoke_type"].(string)

	switch {
	case source == "stream":
		a.tStream = nowFunc()
	case source == "two_pass" && invokeType == "soft_vad":
		a.tSoft = nowFunc()
	case source == "two_pass" && invokeType == "hard_vad" && u.IsFinal:
		if a.tStream.IsZero() {
			return
		}
		m := Metrics{TwoPassDelayMs: nowFunc().Sub(a.tStream).Milliseconds()}
		if a.softVadOn && !a.tSoft.IsZero() {
			m.SoftTwoPassDelayMs = a.tSoft.Sub(a.tStream).Milliseconds()
		} else {
			m.SoftTwoPassDelayMs = -1
		}
		if a.metricsSink != nil {
			a.metricsSink(m)
		}
	}
}
