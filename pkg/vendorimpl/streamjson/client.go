// Package streamjson is a concrete vendorapi.Client (C4) binding for a
// JSON-over-websocket streaming protocol, grounded on the teacher's
// pkg/volc/client/client.go (connection lifecycle, full-client-request
// then audio-segment loop) and pkg/volc/request/header.go (bit-packed
// frame header, X-Api-* auth headers, resource-id-per-model-version
// selection). Demonstrates the JSON/text vendor family alongside
// legacybin's binary family.
package streamjson

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"asr-session-core/pkg/vendorapi"
	"asr-session-core/pkg/vendorshared"
)

const protocolVersion = 0b0001

type messageType byte

const (
	clientFullRequest  messageType = 0b0001
	clientAudioOnly    messageType = 0b0010
	serverFullResponse messageType = 0b1001
	serverErrorResp    messageType = 0b1111
)

type frameHeader struct {
	msgType messageType
	flags   byte
}

func (h frameHeader) toBytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(protocolVersion<<4 | 1))
	buf.WriteByte(byte(h.msgType)<<4 | h.flags)
	serialization := byte(0b0001) // JSON
	buf.WriteByte(serialization << 4)
	buf.WriteByte(0x00)
	return buf.Bytes()
}

type wireUtterance struct {
	Text      string         `json:"text"`
	StartMs   int64          `json:"start_ms"`
	EndMs     int64          `json:"end_ms"`
	IsFinal   bool           `json:"is_final"`
	Additions map[string]any `json:"additions,omitempty"`
}

type wirePayload struct {
	Text       string           `json:"text"`
	StartMs    int64            `json:"start_ms"`
	DurationMs int64            `json:"duration_ms"`
	Language   string           `json:"language,omitempty"`
	Utterances []wireUtterance  `json:"utterances,omitempty"`
	ErrorCode  int              `json:"error_code,omitempty"`
	ErrorMsg   string           `json:"error_msg,omitempty"`
}

// Client implements vendorapi.Client over a JSON/websocket duplex stream.
type Client struct {
	cfg       vendorapi.Config
	conn      *websocket.Conn
	events    chan vendorapi.VendorEvent
	connID    string
	logID     string
	heartbeat *vendorshared.Heartbeat
	closeOnce sync.Once
}

// New returns an unconnected streamjson Client.
func New() *Client {
	return &Client{events: make(chan vendorapi.VendorEvent, 16)}
}

func (c *Client) Events() <-chan vendorapi.VendorEvent { return c.events }

// Connect dials the websocket endpoint with the vendor's X-Api-* auth
// headers and sends the full-client-request frame describing the audio
// format. VendorParams may carry "resource_id", "access_key", "app_key".
func (c *Client) Connect(ctx context.Context, cfg vendorapi.Config) error {
	c.cfg = cfg
	c.connID = uuid.New().String()

	header := authHeader(cfg, c.connID)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return fmt.Errorf("streamjson: dial: %w", err)
	}
	if resp != nil {
		c.logID = resp.Header.Get("X-Tt-Logid")
	}
	c.conn = conn

	if err := c.sendFullClientRequest(); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()
	c.heartbeat = vendorshared.NewHeartbeat(0, c.ping, func(err error) {
		c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventConnectionError, ConnectionErr: fmt.Errorf("streamjson: heartbeat: %w", err)})
	}, nil)
	c.heartbeat.Start()
	c.events <- vendorapi.VendorEvent{Kind: vendorapi.EventOpened}
	return nil
}

func authHeader(cfg vendorapi.Config, connID string) (header map[string][]string) {
	resourceID, _ := cfg.VendorParams["resource_id"].(string)
	accessKey, _ := cfg.VendorParams["access_key"].(string)
	appKey, _ := cfg.VendorParams["app_key"].(string)
	return map[string][]string{
		"X-Api-Resource-Id": {resourceID},
		"X-Api-Connect-Id":  {connID},
		"X-Api-Access-Key":  {accessKey},
		"X-Api-App-Key":     {appKey},
	}
}

func (c *Client) sendFullClientRequest() error {
	payload := map[string]any{
		"sample_rate_hz":    c.cfg.SampleRateHz,
		"channels":          c.cfg.Channels,
		"sample_width_bits": c.cfg.SampleWidthBits,
		"params":            c.cfg.VendorParams,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("streamjson: marshal full request: %w", err)
	}
	frame := frameHeader{msgType: clientFullRequest, flags: 0b0001}.toBytes()
	frame = append(frame, body...)
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendAudio writes one chunk of PCM audio as an audio-only frame.
func (c *Client) SendAudio(data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("streamjson: SendAudio before Connect")
	}
	frame := frameHeader{msgType: clientAudioOnly, flags: 0b0001}.toBytes()
	frame = append(frame, data...)
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Finalize asks the vendor to flush pending results by sending a
// zero-length audio frame with the negative-sequence flag the protocol
// treats as end-of-stream. The same frame is sent in every FinalizeMode;
// no silent audio is sent and the connection is left open.
func (c *Client) Finalize(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("streamjson: Finalize before Connect")
	}
	frame := frameHeader{msgType: clientAudioOnly, flags: 0b0011}.toBytes() // NEG_SEQUENCE_1
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Client) ping() error {
	if c.conn == nil {
		return fmt.Errorf("streamjson: ping before Connect")
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.heartbeat != nil {
			c.heartbeat.Stop()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
		close(c.events)
	})
	return err
}

func (c *Client) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if _, ok := err.(*websocket.CloseError); ok {
				c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventClosed})
			} else {
				c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventConnectionError, ConnectionErr: err})
			}
			return
		}
		if len(msg) < 4 {
			continue
		}
		headerSize := int(msg[0] & 0x0f)
		if headerSize == 0 {
			headerSize = 1
		}
		mType := messageType(msg[1] >> 4)
		body := msg[headerSize*4:]

		var p wirePayload
		if err := sonic.Unmarshal(body, &p); err != nil {
			c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventVendorError, VendorErr: &vendorapi.VendorError{Msg: fmt.Sprintf("unmarshal payload: %v", err)}})
			continue
		}

		if mType == serverErrorResp || p.ErrorCode != 0 {
			c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventVendorError, VendorErr: &vendorapi.VendorError{Code: p.ErrorCode, Msg: p.ErrorMsg}})
			continue
		}

		batch := &vendorapi.ResultBatch{
			OverallText:       p.Text,
			OverallStartMs:    p.StartMs,
			OverallDurationMs: p.DurationMs,
			Language:          p.Language,
			RawPayload:        p,
			LogID:             c.logID,
		}
		for _, u := range p.Utterances {
			batch.Utterances = append(batch.Utterances, vendorapi.Utterance{
				Text:      u.Text,
				StartMs:   u.StartMs,
				EndMs:     u.EndMs,
				IsFinal:   u.IsFinal,
				Additions: u.Additions,
			})
		}
		c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventResult, Result: batch})
	}
}

func (c *Client) emit(ev vendorapi.VendorEvent) {
	defer func() { recover() }()
	c.events <- ev
}
