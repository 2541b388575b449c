// Package vendorapi defines the abstract Vendor Client capability (C4):
// the duplex transport contract every concrete vendor binding implements,
// and the typed events it emits to the session orchestrator in producer
// order, replacing the callback-registration style of the original
// extensions (REDESIGN FLAGS, spec.md §9) with a single event channel.
package vendorapi

import "context"

// Config carries everything a VendorClient needs to open a connection.
// VendorParams is the escape hatch for vendor-specific keys the core
// doesn't know about (spec.md §9's "dynamic configuration maps" item,
// reworked as an explicit record plus an opaque bag).
type Config struct {
	URL             string
	SampleRateHz    int
	Channels        int
	SampleWidthBits int
	FinalizeMode    FinalizeMode
	VendorParams    map[string]any
}

// FinalizeMode selects how Finalize asks the vendor to flush pending
// results, per spec.md §6.
type FinalizeMode string

const (
	FinalizeModeDisconnect FinalizeMode = "disconnect"
	FinalizeModeMutePkg    FinalizeMode = "mute_pkg"
)

// EventKind tags a VendorEvent's payload.
type EventKind int

const (
	EventOpened EventKind = iota
	EventResult
	EventVendorError
	EventConnectionError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventResult:
		return "result"
	case EventVendorError:
		return "vendor_error"
	case EventConnectionError:
		return "connection_error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Utterance is a single vendor-produced text fragment, spec.md §3.
type Utterance struct {
	Text      string
	StartMs   int64
	EndMs     int64
	IsFinal   bool
	Additions map[string]any
}

// Valid reports whether the utterance passes spec.md §3's validity rule:
// start_ms >= 0, end_ms >= start_ms, and non-empty text after trim.
func (u Utterance) Valid(trimmedText string) bool {
	return u.StartMs >= 0 && u.EndMs >= u.StartMs && trimmedText != ""
}

// ResultBatch is one vendor response, spec.md §4.4.
type ResultBatch struct {
	OverallText       string
	OverallStartMs    int64
	OverallDurationMs int64
	Utterances        []Utterance
	Language          string
	RawPayload        any
	LogID             string
}

// VendorError is the payload of an EventVendorError.
type VendorError struct {
	Code int
	Msg  string
}

// VendorEvent is the tagged variant delivered to the orchestrator, in
// producer order, in place of the original per-callback API.
type VendorEvent struct {
	Kind          EventKind
	Result        *ResultBatch
	VendorErr     *VendorError
	ConnectionErr error
}

// Client is the abstract Vendor Client capability from spec.md §4.4. Each
// operation either succeeds or returns a typed error; observable state
// changes arrive asynchronously on the channel returned by Events.
type Client interface {
	// Connect opens the duplex transport. It must not be called again
	// without an intervening Close.
	Connect(ctx context.Context, cfg Config) error

	// SendAudio writes one chunk of PCM audio to the transport.
	SendAudio(data []byte) error

	// Finalize asks the vendor to flush any pending final results promptly,
	// per cfg.FinalizeMode.
	Finalize(ctx context.Context) error

	// Close releases the transport. Idempotent.
	Close() error

	// Events returns the channel of VendorEvent this client emits in
	// producer order. The channel is closed by Close.
	Events() <-chan VendorEvent
}
