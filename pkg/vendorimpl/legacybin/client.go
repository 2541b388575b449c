// Package legacybin is a concrete vendorapi.Client (C4) binding for the
// bit-packed binary framing protocol, grounded on the teacher's
// pkg/volc/legacy/client.go (header byte layout, gzip payload framing,
// SERVER_FULL_RESPONSE/SERVER_ACK/SERVER_ERROR_RESPONSE message types).
// It demonstrates the "legacy binary" vendor family alongside streamjson's
// text/JSON family, per spec.md §4.4's requirement that C4 be pluggable
// across wire formats.
package legacybin

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"

	"asr-session-core/pkg/vendorapi"
	"asr-session-core/pkg/vendorshared"
)

type messageType byte

const (
	clientFullRequest  messageType = 0b0001
	clientAudioOnly    messageType = 0b0010
	serverFullResponse messageType = 0b1001
	serverAck          messageType = 0b1011
	serverError        messageType = 0b1111
)

const successCode = 1000

var (
	fullClientHeader = []byte{0x11, 0x10, 0x11, 0x00}
	audioOnlyHeader  = []byte{0x11, 0x20, 0x11, 0x00}
	lastAudioHeader  = []byte{0x11, 0x22, 0x11, 0x00}
)

type wireResult struct {
	Text       string          `json:"text"`
	Language   string          `json:"language,omitempty"`
	Utterances []wireUtterance `json:"utterances,omitempty"`
}

type wireUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type wireResponse struct {
	Reqid   string       `json:"reqid"`
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Results []wireResult `json:"result,omitempty"`
}

// Client implements vendorapi.Client for the bit-packed binary protocol.
type Client struct {
	cfg    vendorapi.Config
	conn   *websocket.Conn
	events chan vendorapi.VendorEvent
	seq    int32

	heartbeat *vendorshared.Heartbeat
	closeOnce sync.Once
}

// New returns an unconnected legacybin Client.
func New() *Client {
	return &Client{events: make(chan vendorapi.VendorEvent, 16)}
}

func (c *Client) Events() <-chan vendorapi.VendorEvent { return c.events }

// Connect dials the vendor's websocket endpoint. VendorParams must carry
// "appid", "token", and "cluster" string keys.
func (c *Client) Connect(ctx context.Context, cfg vendorapi.Config) error {
	c.cfg = cfg
	token, _ := cfg.VendorParams["token"].(string)

	header := http.Header{"Authorization": []string{fmt.Sprintf("Bearer;%s", token)}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return fmt.Errorf("legacybin: dial: %w", err)
	}
	c.conn = conn
	c.seq = 1

	if err := c.sendFullClientRequest(); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()
	c.heartbeat = vendorshared.NewHeartbeat(0, c.ping, func(err error) {
		c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventConnectionError, ConnectionErr: fmt.Errorf("legacybin: heartbeat: %w", err)})
	}, nil)
	c.heartbeat.Start()
	c.events <- vendorapi.VendorEvent{Kind: vendorapi.EventOpened}
	return nil
}

func (c *Client) ping() error {
	if c.conn == nil {
		return fmt.Errorf("legacybin: ping before Connect")
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *Client) sendFullClientRequest() error {
	appid, _ := c.cfg.VendorParams["appid"].(string)
	token, _ := c.cfg.VendorParams["token"].(string)
	cluster, _ := c.cfg.VendorParams["cluster"].(string)

	reqid := uuid.NewV4().String()
	req := map[string]map[string]any{
		"app": {
			"appid":   appid,
			"cluster": cluster,
			"token":   token,
		},
		"user": {"uid": "uid"},
		"request": {
			"reqid":       reqid,
			"nbest":       1,
			"result_type": "full",
			"sequence":    1,
		},
		"audio": {
			"format": "raw",
			"codec":  "raw",
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("legacybin: marshal full request: %w", err)
	}
	return c.writeFrame(fullClientHeader, body)
}

func (c *Client) writeFrame(header, payload []byte) error {
	compressed := gzipCompress(payload)
	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(compressed)))

	msg := make([]byte, 0, len(header)+len(size)+len(compressed))
	msg = append(msg, header...)
	msg = append(msg, size...)
	msg = append(msg, compressed...)
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// SendAudio writes one chunk of audio as a non-terminal audio-only frame.
func (c *Client) SendAudio(data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("legacybin: SendAudio before Connect")
	}
	return c.writeFrame(audioOnlyHeader, data)
}

// Finalize sends the zero-length last-audio frame the protocol uses to mark
// end of stream; for FinalizeModeMutePkg it then sends three silent
// audio-only frames 50ms apart. The connection is left open in both modes.
func (c *Client) Finalize(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("legacybin: Finalize before Connect")
	}
	if err := c.writeFrame(lastAudioHeader, nil); err != nil {
		return fmt.Errorf("legacybin: write last-audio frame: %w", err)
	}
	if c.cfg.FinalizeMode == vendorapi.FinalizeModeMutePkg {
		// The binary protocol has no mute-package primitive; approximate it
		// by pacing a short run of silent audio-only frames instead of
		// tearing down the socket, so the vendor's VAD still sees a live
		// stream while the host drains pending results.
		const muteFrames = 3
		silence := make([]byte, 320)
		for i := 0; i < muteFrames; i++ {
			if err := c.writeFrame(audioOnlyHeader, silence); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
	return nil
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
		resp, isLast, err := parseFrame(msg)
		if err != nil {
			c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventVendorError, VendorErr: &vendorapi.VendorError{Msg: err.Error()}})
			continue
		}
		if resp == nil {
			continue // ACK frame with no payload of interest.
		}
		if resp.Code != 0 && resp.Code != successCode {
			c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventVendorError, VendorErr: &vendorapi.VendorError{Code: resp.Code, Msg: resp.Message}})
			continue
		}
		c.emit(vendorapi.VendorEvent{Kind: vendorapi.EventResult, Result: toResultBatch(resp, isLast)})
	}
}

func (c *Client) emit(ev vendorapi.VendorEvent) {
	defer func() { recover() }() // events may already be closed by a concurrent Close.
	c.events <- ev
}

func toResultBatch(resp *wireResponse, isLast bool) *vendorapi.ResultBatch {
	batch := &vendorapi.ResultBatch{LogID: resp.Reqid, RawPayload: resp}
	if len(resp.Results) == 0 {
		return batch
	}
	r := resp.Results[0]
	batch.OverallText = r.Text
	batch.Language = r.Language
	for _, u := range r.Utterances {
		batch.Utterances = append(batch.Utterances, vendorapi.Utterance{
			Text:    u.Text,
			StartMs: u.StartTime,
			EndMs:   u.EndTime,
			IsFinal: u.Definite || isLast,
		})
	}
	if len(batch.Utterances) == 0 && r.Text != "" {
		batch.Utterances = append(batch.Utterances, vendorapi.Utterance{
			Text:    r.Text,
			StartMs: 0,
			EndMs:   0,
			IsFinal: isLast,
		})
	}
	return batch
}

func parseFrame(msg []byte) (resp *wireResponse, isLast bool, err error) {
	if len(msg) < 4 {
		return nil, false, fmt.Errorf("legacybin: frame too short")
	}
	headerSize := int(msg[0] & 0x0f)
	if headerSize == 0 {
		headerSize = 1
	}
	mType := messageType(msg[1] >> 4)
	compression := msg[2] & 0x0f
	payload := msg[headerSize*4:]

	var payloadMsg []byte
	switch mType {
	case serverFullResponse:
		if len(payload) < 4 {
			return nil, false, fmt.Errorf("legacybin: truncated full response")
		}
		payloadMsg = payload[4:]
		isLast = true
	case serverAck:
		if len(payload) < 8 {
			return nil, false, nil
		}
		payloadMsg = payload[8:]
	case serverError:
		if len(payload) < 8 {
			return nil, false, fmt.Errorf("legacybin: truncated error response")
		}
		code := int32(binary.BigEndian.Uint32(payload[:4]))
		return nil, false, fmt.Errorf("legacybin: server error code %d", code)
	default:
		return nil, false, fmt.Errorf("legacybin: unknown message type %v", mType)
	}

	if len(payloadMsg) == 0 {
		return nil, isLast, nil
	}
	if compression == 0b0001 {
		payloadMsg, err = gzipDecompress(payloadMsg)
		if err != nil {
			return nil, false, fmt.Errorf("legacybin: gunzip payload: %w", err)
		}
	}

	var out wireResponse
	if err := json.Unmarshal(payloadMsg, &out); err != nil {
		return nil, false, fmt.Errorf("legacybin: unmarshal payload: %w", err)
	}
	return &out, isLast, nil
}

func gzipCompress(input []byte) []byte {
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	w.Write(input)
	w.Close()
	return b.Bytes()
}

func gzipDecompress(input []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
