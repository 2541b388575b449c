// Package timeline implements the monotonic audio accounting described by
// the session core's AudioTimeline entity: it tracks how much user audio has
// been sent versus silence injected for finalize, and projects
// vendor-reported timestamps onto an absolute, reconnect-stable offset.
package timeline

// kind distinguishes a user-audio interval from injected silence.
type kind int

const (
	kindUser kind = iota
	kindSilence
)

type interval struct {
	kind       kind
	durationMs int64
}

// Timeline is the AudioTimeline entity from spec.md §3/§4.1. It is not
// safe for concurrent use; the session orchestrator owns it exclusively
// and mutates it only from its own event loop goroutine.
type Timeline struct {
	intervals []interval
	// offsetBeforeLastReset is the total user-audio duration accumulated by
	// all resets prior to this one; it is added to audio_before() so that
	// projected timestamps stay continuous across reconnects.
	offsetBeforeLastReset int64
	totalUserMs           int64
}

// New returns an empty Timeline with no carried-over offset.
func New() *Timeline {
	return &Timeline{}
}

// AddUser records ms milliseconds of user audio.
func (t *Timeline) AddUser(ms int64) {
	if ms <= 0 {
		return
	}
	t.intervals = append(t.intervals, interval{kind: kindUser, durationMs: ms})
	t.totalUserMs += ms
}

// AddSilence records ms milliseconds of injected silence. Silence never
// counts toward TotalUserMs.
func (t *Timeline) AddSilence(ms int64) {
	if ms <= 0 {
		return
	}
	t.intervals = append(t.intervals, interval{kind: kindSilence, durationMs: ms})
}

// TotalUserMs returns the sum of all AddUser durations recorded since the
// last Reset, excluding silence.
func (t *Timeline) TotalUserMs() int64 {
	return t.totalUserMs
}

// AudioBefore returns the total user-audio duration, within the current
// timeline only (since the last Reset), whose vendor-timeline end is <=
// tVendorMs. It does not include the carried-over reset offset — callers
// that need an absolute, reconnect-stable timestamp add
// OffsetBeforeLastReset() themselves, per spec.md §4.6 step 5. A negative
// tVendorMs returns 0; a tVendorMs beyond the last interval returns the
// full TotalUserMs.
func (t *Timeline) AudioBefore(tVendorMs int64) int64 {
	if tVendorMs < 0 {
		return 0
	}
	var cursor int64
	var userBefore int64
	exhausted := true
	for _, iv := range t.intervals {
		end := cursor + iv.durationMs
		if end <= tVendorMs {
			if iv.kind == kindUser {
				userBefore += iv.durationMs
			}
			cursor = end
			continue
		}
		// tVendorMs falls inside this interval; only the user portion
		// preceding it, if any, counts. Intervals are atomic, so a partial
		// interval contributes nothing further.
		exhausted = false
		break
	}
	if exhausted {
		userBefore = t.totalUserMs
	}
	return userBefore
}

// Project returns AudioBefore(tVendorMs) plus the carried-over reset
// offset — the reconnect-stable absolute timestamp spec.md §3 calls
// project(t_vendor).
func (t *Timeline) Project(tVendorMs int64) int64 {
	return t.AudioBefore(tVendorMs) + t.offsetBeforeLastReset
}

// Reset starts a fresh timeline, folding the current TotalUserMs into the
// carried-over offset so that AudioBefore stays monotonic across the reset
// (used by the session orchestrator each time it enters the reconnecting
// state).
func (t *Timeline) Reset() {
	t.offsetBeforeLastReset += t.totalUserMs
	t.intervals = nil
	t.totalUserMs = 0
}

// OffsetBeforeLastReset exposes the carried-over offset that Project adds
// to AudioBefore.
func (t *Timeline) OffsetBeforeLastReset() int64 {
	return t.offsetBeforeLastReset
}
