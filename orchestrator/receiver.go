package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/zsiec/ndibridge/capability"
	"github.com/zsiec/ndibridge/codec"
	"github.com/zsiec/ndibridge/delay"
	"github.com/zsiec/ndibridge/reassembly"
	"github.com/zsiec/ndibridge/wire"
)

// pumpInterval is the output-pump cadence used when a non-zero delay is
// configured.
const pumpInterval = time.Millisecond

// recvBufferSize is generously larger than any single datagram this
// protocol ever emits (wire.DefaultPayloadMTU plus header, with slack for
// a caller-configured larger MTU).
const recvBufferSize = 65536

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Port     int // UDP port to listen on
	BufferMS int // presentation delay in milliseconds; 0 = real-time
}

// Receiver listens for wire datagrams, reassembles them per media type,
// decodes video, and republishes both streams via a SourceOutput, either
// directly (BufferMS == 0) or through a delay.Buffer pumped on a 1ms
// cadence.
type Receiver struct {
	log    *slog.Logger
	cfg    ReceiverConfig
	output capability.SourceOutput

	reassembler *reassembly.Reassembler
	decoder     *codec.Decoder
	delayLine   *delay.Buffer

	lastWidth, lastHeight int
}

// NewReceiver builds a Receiver around a decoder factory and a
// SourceOutput sink. log, if nil, defaults to slog.Default().
func NewReceiver(decoderFactory capability.RawDecoderFactory, output capability.SourceOutput, cfg ReceiverConfig, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	r := &Receiver{
		log:         log.With("component", "receiver"),
		cfg:         cfg,
		output:      output,
		reassembler: reassembly.New(),
		decoder:     codec.NewDecoder(decoderFactory),
		delayLine:   delay.New(),
	}
	r.delayLine.Configure(cfg.BufferMS)
	r.decoder.SetOutput(r.onDecoded)
	r.decoder.SetResolutionCallback(r.onResolution)
	return r
}

// Run opens a UDP listener on cfg.Port and processes datagrams until ctx
// is cancelled. It returns nil on clean shutdown.
func (r *Receiver) Run(ctx context.Context) error {
	addr := &net.UDPAddr{Port: r.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	r.log.Info("listening", "port", r.cfg.Port, "buffer_ms", r.cfg.BufferMS)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := r.output.Start(0, 0); err != nil {
		return err
	}
	if r.delayLine.Enabled() {
		go r.pump(ctx)
	}

	buf := make([]byte, recvBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				r.log.Warn("read error, continuing", "error", err)
				continue
			}
			return err
		}

		h, err := wire.DecodeHeader(buf[:n])
		if err != nil {
			r.log.Warn("dropping malformed datagram", "error", err)
			continue
		}
		payload := wire.Payload(buf[:n], h)

		frame, complete := r.reassembler.Admit(h, payload)
		if !complete {
			continue
		}

		r.deliver(frame)
	}
}

func (r *Receiver) deliver(frame reassembly.Frame) {
	switch frame.MediaType {
	case wire.MediaTypeVideo:
		if err := r.decoder.Decode(frame.Payload, frame.Timestamp); err != nil {
			r.log.Error("decode failed", "error", err)
		}
	case wire.MediaTypeAudio:
		if r.delayLine.Enabled() {
			r.delayLine.EnqueueAudio(frame.Payload, frame.Timestamp, frame.SampleRate, frame.Channels)
		} else {
			r.output.SendAudio(frame.Payload, frame.Timestamp, int(frame.SampleRate), int(frame.Channels))
		}
	}
}

func (r *Receiver) onDecoded(pixels capability.PixelBuffer, timestamp uint64) {
	if r.delayLine.Enabled() {
		r.delayLine.EnqueueVideo(pixels, timestamp)
	} else {
		r.output.SendVideo(pixels, timestamp)
	}
}

// onResolution fires the first time the decoder successfully parses a new
// SPS, and again on every subsequent resolution change, so the output's
// framing metadata reflects the real stream.
func (r *Receiver) onResolution(width, height int) {
	if width == r.lastWidth && height == r.lastHeight {
		return
	}
	r.lastWidth, r.lastHeight = width, height
	r.output.SetResolution(width, height)
}

// pump drains the delay buffer to the output at a fixed cadence. It is
// only started when the receiver is configured with a non-zero delay.
func (r *Receiver) pump(ctx context.Context) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			videos, audios := r.delayLine.DequeueReady()
			for _, v := range videos {
				r.output.SendVideo(v.Frame, v.Timestamp)
			}
			for _, a := range audios {
				r.output.SendAudio(a.Data, a.Timestamp, int(a.SampleRate), int(a.Channels))
			}
		}
	}
}
