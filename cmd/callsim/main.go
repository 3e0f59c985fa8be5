// Command callsim plays the carrier side of a media stream against a running
// aicc server: it streams caller audio as mu-law frames and measures how long
// each reply takes to start.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/aicc/internal/audio"
	"github.com/ent0n29/aicc/internal/protocol"
	"github.com/ent0n29/aicc/internal/reliability"
)

type options struct {
	baseURL      string
	callID       string
	streamSID    string
	wavPath      string
	toneSeconds  float64
	turns        int
	frame        time.Duration
	realtime     float64
	replyTimeout time.Duration
	replyQuiet   time.Duration
	dialAttempts int
	watchStatus  bool
	verbose      bool
}

type turnResult struct {
	firstAudio time.Duration
	frames     int
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("callsim", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "aicc base URL")
	fs.StringVar(&cfg.callID, "call-id", "", "call id (random when empty)")
	fs.StringVar(&cfg.streamSID, "stream-sid", "", "carrier stream sid (random when empty)")
	fs.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file spoken by the caller each turn")
	fs.Float64Var(&cfg.toneSeconds, "tone-seconds", 2.5, "length of the synthetic caller tone when -wav is not set")
	fs.IntVar(&cfg.turns, "turns", 3, "number of caller turns")
	fs.DurationVar(&cfg.frame, "frame", 20*time.Millisecond, "audio per media frame")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.DurationVar(&cfg.replyTimeout, "reply-timeout", 20*time.Second, "max wait for reply audio per turn")
	fs.DurationVar(&cfg.replyQuiet, "reply-quiet", 600*time.Millisecond, "silence after which a reply is considered complete")
	fs.IntVar(&cfg.dialAttempts, "dial-attempts", 5, "media socket dial attempts")
	fs.BoolVar(&cfg.watchStatus, "status", true, "print status events from the observer socket")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.frame < 10*time.Millisecond || cfg.frame > time.Second {
		return options{}, fmt.Errorf("frame must be in [10ms,1s]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if cfg.wavPath == "" && cfg.toneSeconds <= 0 {
		return options{}, fmt.Errorf("tone-seconds must be > 0 without -wav")
	}
	if cfg.dialAttempts <= 0 {
		cfg.dialAttempts = 1
	}
	if cfg.callID == "" {
		cfg.callID = "sim-" + uuid.NewString()
	}
	if cfg.streamSID == "" {
		cfg.streamSID = "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	clip, err := loadClip(cfg)
	if err != nil {
		return fmt.Errorf("prepare caller audio: %w", err)
	}

	if cfg.watchStatus {
		statusURL, err := wsURL(cfg.baseURL, "/ws/call/"+cfg.callID)
		if err != nil {
			return err
		}
		if conn, _, err := websocket.DefaultDialer.DialContext(ctx, statusURL, nil); err == nil {
			defer conn.Close()
			go printStatus(conn)
		} else {
			fmt.Fprintf(os.Stderr, "callsim: status socket unavailable: %v\n", err)
		}
	}

	mediaURL, err := wsURL(cfg.baseURL, "/ws/media/"+cfg.callID)
	if err != nil {
		return err
	}
	conn, err := dialWithRetry(ctx, mediaURL, cfg.dialAttempts)
	if err != nil {
		return fmt.Errorf("open media socket: %w", err)
	}
	defer conn.Close()

	frames := make(chan time.Time, 256)
	readErr := make(chan error, 1)
	go readReplies(conn, frames, readErr)

	if cfg.verbose {
		fmt.Printf("callsim: call=%s stream=%s turns=%d clip=%s\n", cfg.callID, cfg.streamSID, cfg.turns, audio.PCM16Duration(len(clip), audio.TelephonySampleRate))
	}
	if err := sendEvent(conn, protocol.CarrierEvent{Event: protocol.EventConnected, Protocol: "Call", Version: "1.0.0"}); err != nil {
		return err
	}
	if err := sendEvent(conn, startEvent(cfg)); err != nil {
		return err
	}

	seq := 2
	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		drain(frames)
		if err := streamPCM(ctx, conn, cfg, clip, &seq); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		spokeAt := time.Now()
		res, err := awaitReply(ctx, conn, cfg, frames, readErr, spokeAt, &seq)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("callsim: turn %d/%d first_audio=%s frames=%d\n", i+1, cfg.turns, res.firstAudio.Round(time.Millisecond), res.frames)
		}
	}

	seq++
	if err := sendEvent(conn, protocol.CarrierEvent{Event: protocol.EventStop, SequenceNumber: fmt.Sprint(seq), StreamSID: cfg.streamSID}); err != nil {
		return err
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	printSummary(results)
	return nil
}

// loadClip returns caller audio as PCM16LE at the carrier rate.
func loadClip(cfg options) ([]byte, error) {
	if cfg.wavPath == "" {
		return toneClip(time.Duration(cfg.toneSeconds*float64(time.Second))), nil
	}
	data, err := os.ReadFile(cfg.wavPath)
	if err != nil {
		return nil, err
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return nil, err
	}
	return audio.ResamplePCM16LE(pcm, rate, audio.TelephonySampleRate), nil
}

// toneClip is a loud two-tone signal so energy-based transcribers hear speech.
func toneClip(d time.Duration) []byte {
	n := audio.PCM16Bytes(d, audio.TelephonySampleRate) / 2
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / audio.TelephonySampleRate
		samples[i] = int16(5000*math.Sin(2*math.Pi*350*t) + 5000*math.Sin(2*math.Pi*440*t))
	}
	return audio.SamplesToBytes(samples)
}

func startEvent(cfg options) protocol.CarrierEvent {
	return protocol.CarrierEvent{
		Event:          protocol.EventStart,
		SequenceNumber: "1",
		StreamSID:      cfg.streamSID,
		Start: &protocol.StartMeta{
			StreamSID: cfg.streamSID,
			CallSID:   "CA" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			Tracks:    []string{"inbound"},
			MediaFormat: &protocol.MediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: audio.TelephonySampleRate,
				Channels:   1,
			},
		},
	}
}

func mediaEvent(cfg options, seq int, pcm []byte) protocol.CarrierEvent {
	return protocol.CarrierEvent{
		Event:          protocol.EventMedia,
		SequenceNumber: fmt.Sprint(seq),
		StreamSID:      cfg.streamSID,
		Media: &protocol.MediaChunk{
			Track:   "inbound",
			Chunk:   fmt.Sprint(seq - 2),
			Payload: base64.StdEncoding.EncodeToString(audio.PCM16LEToMulaw(pcm)),
		},
	}
}

func streamPCM(ctx context.Context, conn *websocket.Conn, cfg options, pcm []byte, seq *int) error {
	chunk := audio.PCM16Bytes(cfg.frame, audio.TelephonySampleRate)
	pace := time.Duration(float64(cfg.frame) / cfg.realtime)
	ticker := time.NewTicker(pace)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		*seq++
		if err := sendEvent(conn, mediaEvent(cfg, *seq, pcm[off:end])); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// awaitReply keeps streaming caller silence, as a real phone line does, until
// reply audio starts and then goes quiet.
func awaitReply(ctx context.Context, conn *websocket.Conn, cfg options, frames <-chan time.Time, readErr <-chan error, spokeAt time.Time, seq *int) (turnResult, error) {
	silence := make([]byte, audio.PCM16Bytes(cfg.frame, audio.TelephonySampleRate))
	ticker := time.NewTicker(time.Duration(float64(cfg.frame) / cfg.realtime))
	defer ticker.Stop()
	deadline := time.NewTimer(cfg.replyTimeout)
	defer deadline.Stop()

	var res turnResult
	var lastFrame time.Time
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case err := <-readErr:
			return res, fmt.Errorf("media socket read: %w", err)
		case <-deadline.C:
			if res.frames > 0 {
				return res, nil
			}
			return res, fmt.Errorf("no reply audio after %s", cfg.replyTimeout)
		case at := <-frames:
			if res.frames == 0 {
				res.firstAudio = at.Sub(spokeAt)
			}
			res.frames++
			lastFrame = at
		case <-ticker.C:
			if res.frames > 0 && time.Since(lastFrame) >= cfg.replyQuiet {
				return res, nil
			}
			*seq++
			if err := sendEvent(conn, mediaEvent(cfg, *seq, silence)); err != nil {
				return res, err
			}
		}
	}
}

func readReplies(conn *websocket.Conn, frames chan<- time.Time, readErr chan<- error) {
	for {
		var msg protocol.OutboundMedia
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case readErr <- err:
				default:
				}
			}
			return
		}
		if msg.Event != protocol.EventMedia {
			continue
		}
		select {
		case frames <- time.Now():
		default:
		}
	}
}

func printStatus(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev protocol.StatusEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		switch ev.Type {
		case protocol.StatusTranscript:
			fmt.Printf("callsim: [%s] %s\n", ev.Speaker, ev.Text)
		case protocol.StatusMediaStreamError:
			fmt.Printf("callsim: status %s: %s\n", ev.Type, ev.Detail)
		default:
			fmt.Printf("callsim: status %s\n", ev.Type)
		}
	}
}

func printSummary(results []turnResult) {
	if len(results) == 0 {
		return
	}
	var total, worst time.Duration
	frames := 0
	for _, r := range results {
		total += r.firstAudio
		worst = max(worst, r.firstAudio)
		frames += r.frames
	}
	fmt.Printf("callsim: turns=%d avg_first_audio=%s max_first_audio=%s reply_frames=%d\n",
		len(results),
		(total / time.Duration(len(results))).Round(time.Millisecond),
		worst.Round(time.Millisecond),
		frames,
	)
}

func dialWithRetry(ctx context.Context, rawURL string, attempts int) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, 250*time.Millisecond, 4*time.Second)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		conn, res, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if res != nil && !reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, fmt.Errorf("HTTP %d: %w", res.StatusCode, err)
		}
	}
	return nil, lastErr
}

func sendEvent(conn *websocket.Conn, ev protocol.CarrierEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(ev)
}

func drain(ch <-chan time.Time) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func wsURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
