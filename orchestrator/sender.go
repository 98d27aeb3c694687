// Package orchestrator wires the wire, reassembly, codec, and delay
// packages into the two runnable endpoints: Sender (host) and Receiver
// (join).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/ndibridge/capability"
	"github.com/zsiec/ndibridge/codec"
	"github.com/zsiec/ndibridge/wire"
)

// reconnectDelay is the fixed backoff between capture reconnect attempts.
const reconnectDelay = 2 * time.Second

// discoveryTimeout bounds how long Discover is given to enumerate sources.
const discoveryTimeout = 10 * time.Second

// SenderConfig configures a Sender.
type SenderConfig struct {
	Target     string // "host:port" to send datagrams to
	LocalPort  int    // local UDP port to bind; 0 means an ephemeral port
	BitrateBPS int
	SourceName string   // exact/partial name match; "" means auto-select or prompt
	Exclude    []string // case-insensitive substrings; matching sources are never candidates
	Auto       bool     // skip the interactive prompt, pick the first candidate
	MTU        int      // payload MTU budget; 0 means wire.DefaultPayloadMTU
}

// defaultExclude matches the source this same machine's Receiver publishes,
// so a host running both ends never captures its own output.
var defaultExclude = []string{"bridge"}

// PromptFunc asks the operator to choose among candidates when neither
// SourceName nor Auto selects one automatically.
type PromptFunc func(candidates []capability.SourceDescriptor) (capability.SourceDescriptor, error)

// Sender captures from a local SourceCapture, encodes video, and fragments
// both video and audio onto a UDP socket addressed to Target. On capture
// disconnect it waits reconnectDelay and tries again for as long as Run's
// context is alive.
type Sender struct {
	log    *slog.Logger
	cfg    SenderConfig
	prompt PromptFunc

	capture capability.SourceCapture
	encoder *codec.Encoder

	mu   sync.Mutex
	conn *net.UDPConn

	seq atomic.Uint32
}

// NewSender builds a Sender around a capture source and a raw encoder. log,
// if nil, defaults to slog.Default().
func NewSender(capture capability.SourceCapture, rawEncoder capability.RawEncoder, cfg SenderConfig, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MTU <= 0 {
		cfg.MTU = wire.DefaultPayloadMTU
	}
	if len(cfg.Exclude) == 0 {
		cfg.Exclude = defaultExclude
	}

	s := &Sender{
		log:     log.With("component", "sender"),
		cfg:     cfg,
		prompt:  promptStdin,
		capture: capture,
		encoder: codec.NewEncoder(rawEncoder),
	}
	s.encoder.SetOutput(s.onEncoded)
	return s
}

// SetPrompt overrides the interactive source-selection prompt; tests and
// --auto callers never invoke it.
func (s *Sender) SetPrompt(p PromptFunc) {
	s.prompt = p
}

// Run initializes the capture source, selects and connects to one, and
// streams until ctx is cancelled, reconnecting on disconnect. It returns
// nil on clean shutdown (ctx cancellation) or the initialization error if
// the source cannot be discovered/selected at all.
func (s *Sender) Run(ctx context.Context) error {
	if err := s.capture.Initialize(); err != nil {
		return fmt.Errorf("orchestrator: initialize capture: %w", err)
	}

	sources, err := s.capture.Discover(ctx, discoveryTimeout)
	if err != nil {
		return fmt.Errorf("orchestrator: discover sources: %w", err)
	}
	candidates := filterExcluded(sources, s.cfg.Exclude)
	if len(candidates) == 0 {
		return errors.New("orchestrator: no candidate sources after exclusion filter")
	}

	source, err := s.selectSource(candidates)
	if err != nil {
		return fmt.Errorf("orchestrator: select source: %w", err)
	}
	s.log.Info("selected source", "name", source.Name)

	addr, err := net.ResolveUDPAddr("udp", s.cfg.Target)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve target %q: %w", s.cfg.Target, err)
	}
	var laddr *net.UDPAddr
	if s.cfg.LocalPort != 0 {
		laddr = &net.UDPAddr{Port: s.cfg.LocalPort}
	}
	conn, err := net.DialUDP("udp", laddr, addr)
	if err != nil {
		return fmt.Errorf("orchestrator: dial target: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.encoder.Configure(capability.EncoderParams{
		BitrateBPS:       s.cfg.BitrateBPS,
		KeyframeInterval: 60,
	})

	for {
		disconnected := make(chan error, 1)
		cb := capability.Callbacks{
			OnVideo: s.onVideo,
			OnAudio: s.onAudio,
			OnDisconnect: func(err error) {
				disconnected <- err
			},
		}

		if err := s.capture.Connect(source); err != nil {
			s.log.Error("connect failed, retrying", "error", err)
			if !s.wait(ctx) {
				return nil
			}
			continue
		}
		if err := s.capture.StartCapture(cb); err != nil {
			s.log.Error("start capture failed, retrying", "error", err)
			if !s.wait(ctx) {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.capture.Stop()
			return nil
		case err := <-disconnected:
			if err != nil {
				s.log.Warn("source disconnected, reconnecting", "error", err)
			} else {
				s.log.Info("source stopped, reconnecting")
			}
			s.capture.Stop()
			if !s.wait(ctx) {
				return nil
			}
		}
	}
}

// wait blocks for reconnectDelay or until ctx is cancelled, reporting which
// happened first.
func (s *Sender) wait(ctx context.Context) bool {
	timer := time.NewTimer(reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Sender) selectSource(candidates []capability.SourceDescriptor) (capability.SourceDescriptor, error) {
	if s.cfg.SourceName != "" {
		lower := strings.ToLower(s.cfg.SourceName)
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c.Name), lower) {
				return c, nil
			}
		}
		return capability.SourceDescriptor{}, fmt.Errorf("no source matching %q", s.cfg.SourceName)
	}
	if s.cfg.Auto {
		return candidates[0], nil
	}
	return s.prompt(candidates)
}

func filterExcluded(sources []capability.SourceDescriptor, exclude []string) []capability.SourceDescriptor {
	if len(exclude) == 0 {
		return sources
	}
	var out []capability.SourceDescriptor
	for _, src := range sources {
		excluded := false
		for _, pattern := range exclude {
			if pattern == "" {
				continue
			}
			if strings.Contains(strings.ToLower(src.Name), strings.ToLower(pattern)) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, src)
		}
	}
	return out
}

func (s *Sender) onVideo(frame capability.PixelBuffer, timestamp uint64, frameNumber uint64) {
	if err := s.encoder.Encode(frame, timestamp, 0); err != nil {
		s.log.Error("encode failed", "error", err)
	}
}

func (s *Sender) onEncoded(payload []byte, isKeyframe bool, timestamp, duration uint64) {
	var flags uint8
	if isKeyframe {
		flags = wire.KeyframeFlag
	}
	s.send(wire.MediaTypeVideo, payload, timestamp, flags, 0, 0)
}

func (s *Sender) onAudio(data []byte, timestamp100ns uint64, sampleRate, channels, samplesPerChannel int) {
	s.send(wire.MediaTypeAudio, data, timestamp100ns, 0, uint32(sampleRate), uint8(channels))
}

func (s *Sender) send(mediaType wire.MediaType, payload []byte, timestamp uint64, flags uint8, sampleRate uint32, channels uint8) {
	meta := wire.FrameMeta{
		MediaType:      mediaType,
		SequenceNumber: s.seq.Add(1),
		Timestamp:      timestamp,
		Flags:          flags,
		SampleRate:     sampleRate,
		Channels:       channels,
	}

	datagrams, err := wire.Fragment(payload, meta, s.cfg.MTU)
	if err != nil {
		s.log.Error("fragment failed", "error", err, "media_type", mediaType)
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	for _, dg := range datagrams {
		if _, err := conn.Write(dg); err != nil {
			s.log.Error("send failed", "error", err)
			return
		}
	}
}

func promptStdin(candidates []capability.SourceDescriptor) (capability.SourceDescriptor, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	for i, c := range candidates {
		fmt.Printf("[%d] %s\n", i, c.Name)
	}
	fmt.Print("select source: ")
	var idx int
	if _, err := fmt.Scanln(&idx); err != nil {
		return capability.SourceDescriptor{}, fmt.Errorf("read selection: %w", err)
	}
	if idx < 0 || idx >= len(candidates) {
		return capability.SourceDescriptor{}, fmt.Errorf("selection %d out of range", idx)
	}
	return candidates[idx], nil
}
