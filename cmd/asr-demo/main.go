// Command asr-demo drives one streaming ASR session against a vendor
// websocket endpoint from a local PCM/WAV file, printing each emitted
// result to stdout. Grounded on the teacher's cmd/server/main.go flag and
// godotenv idiom and pkg/volc/client/client.go's ticker-paced audio-segment
// sender, adapted here to a long-lived session instead of a one-shot batch
// run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"asr-session-core/pkg/hostapi"
	"asr-session-core/pkg/session"
	"asr-session-core/pkg/vendorapi"
	"asr-session-core/pkg/vendorimpl/legacybin"
	"asr-session-core/pkg/vendorimpl/streamjson"
)

var (
	audioFile       string
	vendorURL       string
	legacyProtocol  bool
	dumpDir         string
	enableGrouping  bool
	segmentMs       int
	finalizeOnMute  bool
)

func main() {
	flag.StringVar(&audioFile, "audio-file", "", "path to a raw PCM (16kHz/mono/16-bit) file to stream")
	flag.StringVar(&vendorURL, "vendor-url", "", "vendor websocket URL")
	flag.BoolVar(&legacyProtocol, "legacy", false, "use the legacy binary-framed protocol instead of the JSON protocol")
	flag.StringVar(&dumpDir, "dump-dir", "", "directory to write out_<id>.pcm and asr_vendor_result.jsonl, empty disables dumping")
	flag.BoolVar(&enableGrouping, "group-utterances", true, "merge adjacent same-finality utterances before emitting")
	flag.IntVar(&segmentMs, "segment-ms", 100, "audio segment duration sent per frame")
	flag.BoolVar(&finalizeOnMute, "finalize-mute-pkg", false, "use mute_pkg finalize mode instead of disconnect")
	flag.Parse()

	_ = godotenv.Load()

	if audioFile == "" || vendorURL == "" {
		log.Fatal("both -audio-file and -vendor-url are required")
	}

	content, err := os.ReadFile(audioFile)
	if err != nil {
		log.Fatalf("failed to read audio file: %v", err)
	}

	cfg := hostapi.Config{
		VendorURL:       vendorURL,
		VendorParams:    vendorParamsFromEnv(),
		Dump:            dumpDir != "",
		DumpPath:        dumpDir,
		SampleRateHz:    16000,
		Channels:        1,
		SampleWidthBits: 16,
		EnableUtteranceGrouping: enableGrouping,
	}
	if finalizeOnMute {
		cfg.FinalizeMode = vendorapi.FinalizeModeMutePkg
	}
	cfg = cfg.WithDefaults()

	sink := &stdoutSink{}
	newClient := func() vendorapi.Client {
		if legacyProtocol {
			return legacybin.New()
		}
		return streamjson.New()
	}
	sess := session.New(cfg, newClient, sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sess.Run(ctx)

	fmt.Printf("streaming %s (%d bytes) to %s, segment=%dms, legacy=%v\n", audioFile, len(content), vendorURL, segmentMs, legacyProtocol)
	streamFile(ctx, sess, content, segmentMs)

	sess.Finalize(fmt.Sprintf("asr-demo-%d", time.Now().UnixNano()))
	time.Sleep(2 * time.Second)
	sess.Stop()
	time.Sleep(200 * time.Millisecond)
}

func streamFile(ctx context.Context, sess *session.Session, content []byte, segmentMs int) {
	const bytesPerMs = 32 // 16kHz mono 16-bit
	segmentSize := bytesPerMs * segmentMs
	if segmentSize <= 0 {
		segmentSize = 3200
	}

	ticker := time.NewTicker(time.Duration(segmentMs) * time.Millisecond)
	defer ticker.Stop()

	for offset := 0; offset < len(content); offset += segmentSize {
		end := offset + segmentSize
		if end > len(content) {
			end = len(content)
		}
		select {
		case <-ticker.C:
			sess.OnAudioFrame(content[offset:end])
		case <-ctx.Done():
			return
		}
	}
}

func vendorParamsFromEnv() map[string]any {
	return map[string]any{
		"appid":       os.Getenv("VENDOR_APP_ID"),
		"token":       os.Getenv("VENDOR_TOKEN"),
		"cluster":     os.Getenv("VENDOR_CLUSTER"),
		"resource_id": os.Getenv("VENDOR_RESOURCE_ID"),
		"access_key":  os.Getenv("VENDOR_ACCESS_KEY"),
		"app_key":     os.Getenv("VENDOR_APP_KEY"),
	}
}

// stdoutSink is the demo's hostapi.EmissionSink: it just logs.
type stdoutSink struct{}

func (s *stdoutSink) EmitResult(text string, isFinal bool, absoluteStartMs, durationMs int64, language string, metadata map[string]any) {
	kind := "partial"
	if isFinal {
		kind = "final"
	}
	fmt.Printf("[%s @%dms +%dms] %s\n", kind, absoluteStartMs, durationMs, text)
}

func (s *stdoutSink) EmitError(err error) {
	log.Printf("asr error: %v", err)
}

func (s *stdoutSink) EmitFinalizeEnd(finalizeID string, metadata map[string]any) {
	fmt.Printf("-- finalize complete (finalize_id=%s) --\n", finalizeID)
}

func (s *stdoutSink) EmitMetrics(twoPassDelayMs, softTwoPassDelayMs int64) {
	fmt.Printf("metrics: two_pass_delay=%dms soft_two_pass_delay=%dms\n", twoPassDelayMs, softTwoPassDelayMs)
}
