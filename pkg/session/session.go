// Package session implements the Session Orchestrator (C7): the single
// state machine that owns one Timeline, one Chunk Buffer, one Dump Sink,
// one Vendor Client, one Reconnect Supervisor, and one Result Assembler,
// and drives them from a single goroutine acting as the session's event
// loop. Grounded on the teacher's pkg/volc/client/client.go
// connect/send/receive goroutine split, generalized from a one-shot batch
// transcription run into the open-ended streaming state machine of
// spec.md §4.7 (Idle -> Connecting -> Streaming ->
// Finalizing/Reconnecting -> Closed).
package session

import (
	"context"
	"sync"
	"time"

	"asr-session-core/pkg/assembler"
	"asr-session-core/pkg/asrerr"
	"asr-session-core/pkg/chunker"
	"asr-session-core/pkg/dump"
	"asr-session-core/pkg/hostapi"
	"asr-session-core/pkg/reconnect"
	"asr-session-core/pkg/timeline"
	"asr-session-core/pkg/vendorapi"
)

// State is one of spec.md §4.7's session states.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateFinalizing
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientFactory builds a fresh, unconnected vendor client for each
// Connect/reconnect attempt.
type ClientFactory func() vendorapi.Client

// Session is the C7 orchestrator. Exported entry points are safe to call
// from any goroutine; they are funneled onto an internal command channel
// and executed one at a time by Run's event loop.
type Session struct {
	cfg        hostapi.Config
	newClient  ClientFactory
	sink       hostapi.EmissionSink
	dumpSink   *dump.Sink
	timeline   *timeline.Timeline
	chunk      *chunker.Buffer
	asm        *assembler.Assembler
	recon      *reconnect.Supervisor
	bytesPerMs int64

	client         vendorapi.Client
	state          State
	hasFinalResult bool
	finalizeID     string

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

// New constructs a Session. cfg should already have WithDefaults applied.
func New(cfg hostapi.Config, newClient ClientFactory, sink hostapi.EmissionSink) *Session {
	var dumpSink *dump.Sink
	if cfg.Dump {
		dumpSink = dump.New(cfg.DumpPath, nil)
	}
	tl := timeline.New()
	bytesPerMs := int64(cfg.SampleRateHz*cfg.Channels*(cfg.SampleWidthBits/8)) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16kHz mono 16-bit fallback.
	}

	s := &Session{
		cfg:        cfg,
		newClient:  newClient,
		sink:       sink,
		dumpSink:   dumpSink,
		timeline:   tl,
		recon:      reconnect.New(msToDuration(cfg.MinRetryDelayMs), msToDuration(cfg.MaxRetryDelayMs)),
		bytesPerMs: bytesPerMs,
		cmds:       make(chan func(), 64),
	}
	s.chunk = chunker.New(chunkThreshold(bytesPerMs))
	s.chunk.SetSink(s.deliverChunk)

	metricsSink := func(m assembler.Metrics) {
		s.sink.EmitMetrics(m.TwoPassDelayMs, m.SoftTwoPassDelayMs)
	}
	s.asm = assembler.New(cfg.EnableUtteranceGrouping, cfg.EnableSoftVad, tl, metricsSink, cfg.Metadata)
	return s
}

func chunkThreshold(bytesPerMs int64) int {
	const chunkMs = 100
	t := int(bytesPerMs * chunkMs)
	if t <= 0 {
		return 3200
	}
	return t
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Run starts the session's event loop and blocks until the session is
// closed (by Stop, by a fatal vendor error, or by ctx being cancelled).
func (s *Session) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setState(StateConnecting)
	if s.dumpSink != nil {
		if err := s.dumpSink.Open(); err != nil {
			s.sink.EmitError(asrerr.New(asrerr.KindLocalIO, err))
		}
	}
	go s.attemptConnect()

	for {
		var events <-chan vendorapi.VendorEvent
		if c := s.currentClient(); c != nil {
			events = c.Events()
		}
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case cmd := <-s.cmds:
			cmd()
		case ev, ok := <-events:
			if !ok {
				continue
			}
			s.handleVendorEvent(ev)
		}
	}
}

// OnAudioFrame feeds one chunk of raw PCM audio into the session. In Idle
// (after a disconnect-mode finalize) it first starts a fresh connection;
// the chunk buffer stays disabled, discarding full chunks, until that
// connection's opened event.
func (s *Session) OnAudioFrame(data []byte) {
	s.pushCmd(func() {
		if s.State() == StateIdle {
			s.setState(StateConnecting)
			s.timeline.Reset()
			go s.attemptConnect()
		}
		s.chunk.Add(data)
	})
}

// Finalize asks the session to flush pending audio and wait for the
// vendor's final results before emitting asr_finalize_end(id, metadata).
// id is the caller-supplied finalize_id (spec.md §6) and is carried
// unchanged onto the EmitFinalizeEnd call it eventually triggers.
func (s *Session) Finalize(id string) {
	s.pushCmd(func() {
		if s.State() != StateStreaming {
			return
		}
		s.setState(StateFinalizing)
		s.hasFinalResult = false
		s.finalizeID = id
		s.chunk.Flush()
		if err := s.currentClient().Finalize(s.ctx); err != nil {
			s.sink.EmitError(asrerr.New(asrerr.KindProtocol, err))
		}
	})
}

// Stop tears the session down unconditionally.
func (s *Session) Stop() {
	s.pushCmd(func() {
		s.setState(StateClosed)
		s.cancel()
	})
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) currentClient() vendorapi.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) pushCmd(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) vendorConfig() vendorapi.Config {
	return vendorapi.Config{
		URL:             s.cfg.VendorURL,
		SampleRateHz:    s.cfg.SampleRateHz,
		Channels:        s.cfg.Channels,
		SampleWidthBits: s.cfg.SampleWidthBits,
		FinalizeMode:    s.cfg.FinalizeMode,
		VendorParams:    s.cfg.VendorParams,
	}
}

func (s *Session) attemptConnect() {
	client := s.newClient()
	if err := client.Connect(s.ctx, s.vendorConfig()); err != nil {
		s.pushCmd(func() {
			s.sink.EmitError(asrerr.New(asrerr.KindTransientConnection, err))
			s.enterReconnecting()
		})
		return
	}
	s.pushCmd(func() {
		s.mu.Lock()
		s.client = client
		s.mu.Unlock()
	})
}

func (s *Session) enterReconnecting() {
	if s.State() == StateClosed {
		return
	}
	s.setState(StateReconnecting)
	s.chunk.Disable()
	s.timeline.Reset()
	go s.attemptReconnect()
}

func (s *Session) attemptReconnect() {
	s.recon.ScheduleRetry(s.ctx, func(ctx context.Context) error {
		client := s.newClient()
		err := client.Connect(ctx, s.vendorConfig())
		if err == nil {
			s.pushCmd(func() {
				s.mu.Lock()
				s.client = client
				s.mu.Unlock()
			})
		}
		return err
	}, func(err error) {
		s.pushCmd(func() {
			s.sink.EmitError(asrerr.New(asrerr.KindTransientConnection, err))
			if s.State() == StateReconnecting {
				go s.attemptReconnect()
			}
		})
	})
}

func (s *Session) deliverChunk(chunk []byte) {
	durationMs := int64(len(chunk)) / s.bytesPerMs
	s.timeline.AddUser(durationMs)
	if s.dumpSink != nil {
		s.dumpSink.Write(chunk)
	}
	c := s.currentClient()
	if c == nil {
		return
	}
	if err := c.SendAudio(chunk); err != nil {
		s.sink.EmitError(asrerr.New(asrerr.KindTransientConnection, err))
		s.enterReconnecting()
	}
}

func (s *Session) handleVendorEvent(ev vendorapi.VendorEvent) {
	switch ev.Kind {
	case vendorapi.EventOpened:
		s.recon.ResetOnSuccess()
		if s.State() != StateFinalizing {
			s.setState(StateStreaming)
		}
		s.chunk.Enable()

	case vendorapi.EventResult:
		if s.dumpSink != nil {
			if ev.Result.LogID != "" {
				s.dumpSink.BindLogID(ev.Result.LogID)
			}
			s.dumpSink.WriteVendorResult(ev.Result.RawPayload)
		}
		results, hasFinal := s.asm.Process(*ev.Result)
		for _, r := range results {
			s.sink.EmitResult(r.Text, r.IsFinal, r.AbsoluteStartMs, r.DurationMs, r.Language, r.Metadata)
		}
		if hasFinal {
			s.hasFinalResult = true
		}
		if s.State() == StateFinalizing && s.hasFinalResult {
			s.completeFinalize()
		}

	case vendorapi.EventVendorError:
		classified := asrerr.VendorError(ev.VendorErr.Code, ev.VendorErr.Msg, nil)
		s.sink.EmitError(classified)
		if classified.Fatal() {
			s.setState(StateClosed)
			s.cancel()
		}

	case vendorapi.EventConnectionError:
		s.sink.EmitError(asrerr.New(asrerr.KindTransientConnection, ev.ConnectionErr))
		if s.State() == StateFinalizing && s.cfg.FinalizeMode == vendorapi.FinalizeModeDisconnect {
			// An expected disconnect-style finalize teardown, not a failure.
			return
		}
		s.enterReconnecting()

	case vendorapi.EventClosed:
		if s.State() == StateFinalizing && s.cfg.FinalizeMode == vendorapi.FinalizeModeDisconnect {
			// The vendor closed before a final batch drained: the finalize
			// ends without asr_finalize_end.
			s.chunk.Disable()
			s.setState(StateIdle)
			return
		}
		if s.State() != StateClosed {
			s.enterReconnecting()
		}
	}
}

func (s *Session) completeFinalize() {
	s.sink.EmitFinalizeEnd(s.finalizeID, s.cfg.Metadata)
	if s.cfg.FinalizeMode == vendorapi.FinalizeModeDisconnect {
		// The connection is going away with the finalize; nothing left to
		// stream until a fresh Connect happens.
		s.chunk.Disable()
		if c := s.currentClient(); c != nil {
			c.Close()
		}
		s.setState(StateIdle)
		return
	}
	// mute_pkg mode keeps the same connection alive past finalize, so the
	// session is ready to stream again immediately.
	s.chunk.Enable()
	s.setState(StateStreaming)
}

func (s *Session) teardown() {
	s.chunk.Flush()
	if c := s.currentClient(); c != nil {
		c.Close()
	}
	if s.dumpSink != nil {
		if err := s.dumpSink.Close(); err != nil {
			s.sink.EmitError(asrerr.New(asrerr.KindLocalIO, err))
		}
	}
}
