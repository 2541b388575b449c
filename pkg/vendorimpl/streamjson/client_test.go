package streamjson

import (
	"testing"

	"github.com/bytedance/sonic"

	"asr-session-core/pkg/vendorapi"
)

func TestFrameHeaderToBytesEncodesTypeAndFlags(t *testing.T) {
	h := frameHeader{msgType: clientAudioOnly, flags: 0b0011}
	b := h.toBytes()
	if len(b) != 4 {
		t.Fatalf("expected a 4 byte header, got %d", len(b))
	}
	if b[0] != byte(protocolVersion<<4|1) {
		t.Fatalf("unexpected protocol/header-size byte: %08b", b[0])
	}
	if b[1] != byte(clientAudioOnly)<<4|0b0011 {
		t.Fatalf("unexpected msgType/flags byte: %08b", b[1])
	}
}

func TestAuthHeaderCarriesVendorParams(t *testing.T) {
	cfg := vendorapi.Config{
		VendorParams: map[string]any{
			"resource_id": "res-1",
			"access_key":  "ak",
			"app_key":     "appk",
		},
	}
	h := authHeader(cfg, "conn-123")
	if got := h["X-Api-Resource-Id"][0]; got != "res-1" {
		t.Fatalf("expected resource id res-1, got %q", got)
	}
	if got := h["X-Api-Connect-Id"][0]; got != "conn-123" {
		t.Fatalf("expected connect id conn-123, got %q", got)
	}
	if got := h["X-Api-Access-Key"][0]; got != "ak" {
		t.Fatalf("expected access key ak, got %q", got)
	}
}

func TestWirePayloadRoundTripsThroughSonic(t *testing.T) {
	p := wirePayload{
		Text:       "hello world",
		StartMs:    100,
		DurationMs: 450,
		Language:   "en",
		Utterances: []wireUtterance{
			{Text: "hello", StartMs: 100, EndMs: 300, IsFinal: false},
			{Text: "world", StartMs: 300, EndMs: 550, IsFinal: true, Additions: map[string]any{"source": "stream"}},
		},
	}
	body, err := sonic.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wirePayload
	if err := sonic.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Text != p.Text || len(out.Utterances) != 2 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.Utterances[1].Additions["source"] != "stream" {
		t.Fatalf("expected additions to survive round trip, got %+v", out.Utterances[1].Additions)
	}
}

func TestNewClientHasBufferedEventsChannel(t *testing.T) {
	c := New()
	select {
	case <-c.Events():
		t.Fatalf("expected no events before Connect")
	default:
	}
}
