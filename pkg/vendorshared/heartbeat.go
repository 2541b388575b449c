// Package vendorshared holds helpers shared by the concrete VendorClient
// demonstrators (streamjson, legacybin): a keepalive loop grounded on
// PromptKit's runtime/providers/gemini/websocket_manager.go
// StartHeartbeat/heartbeatLoop shape, translated into the teacher's plain
// *log.Logger idiom instead of an injected Logger interface.
package vendorshared

import (
	"log"
	"time"
)

// DefaultHeartbeatInterval is spec.md §5's keepalive cadence.
const DefaultHeartbeatInterval = 5 * time.Second

// Heartbeat sends a ping on a fixed interval for as long as the connection
// the pingFn closes over stays open. It has no notion of reconnect itself;
// the owning VendorClient starts a fresh Heartbeat per connection attempt.
type Heartbeat struct {
	interval time.Duration
	pingFn   func() error
	onFail   func(error)
	logger   *log.Logger
	stop     chan struct{}
}

// NewHeartbeat returns a Heartbeat that calls pingFn every interval
// (DefaultHeartbeatInterval if interval <= 0). A pingFn failure terminates
// the loop and is reported to onFail exactly once; the owning client is
// expected to surface it on its events channel as an EventConnectionError,
// per spec.md §5: errors on send terminate the keepalive loop and surface
// through the normal error path.
func NewHeartbeat(interval time.Duration, pingFn func() error, onFail func(error), logger *log.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Heartbeat{interval: interval, pingFn: pingFn, onFail: onFail, logger: logger, stop: make(chan struct{})}
}

// Start launches the keepalive loop in its own goroutine.
func (h *Heartbeat) Start() {
	go h.loop()
}

// Stop ends the loop. Safe to call at most once.
func (h *Heartbeat) Stop() {
	close(h.stop)
}

func (h *Heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.pingFn(); err != nil {
				h.logger.Printf("vendor: heartbeat ping failed: %v", err)
				if h.onFail != nil {
					h.onFail(err)
				}
				return
			}
		}
	}
}
