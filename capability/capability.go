// Package capability defines the external contracts the orchestrators are
// built against: a local media source (SourceCapture), a local media sink
// (SourceOutput), and the platform H.264 codec primitives (RawEncoder,
// RawDecoder). Concrete implementations are per-platform and live outside
// this module; this package only fixes the boundary.
package capability

import (
	"context"
	"time"
)

// PixelFormat identifies the layout of a PixelBuffer's planes.
type PixelFormat int

// Supported pixel formats. BGRA8 is the common single-plane case; I420 and
// NV12 are listed for planar sources (three and two planes respectively).
const (
	PixelFormatBGRA8 PixelFormat = iota
	PixelFormatI420
	PixelFormatNV12
)

// Plane is one memory plane of a PixelBuffer: Stride is the byte distance
// between the start of consecutive rows, which may exceed Width times the
// per-pixel byte size (row padding).
type Plane struct {
	Data   []byte
	Stride int
}

// PixelBuffer is the capture/output boundary's pixel data abstraction. It
// encapsulates pixel format, dimensions, and one or more planes; the base
// address is simply Planes[i].Data.
type PixelBuffer struct {
	Format PixelFormat
	Width  int
	Height int
	Planes []Plane
}

// Clone returns a deep copy of p: every plane's backing array is copied so
// that mutation of the original (e.g. because the source recycles its pixel
// buffer pool) cannot affect the returned value. Used by the delay buffer,
// which must own its queued entries independently of the codec's pool.
func (p PixelBuffer) Clone() PixelBuffer {
	out := PixelBuffer{Format: p.Format, Width: p.Width, Height: p.Height}
	if p.Planes != nil {
		out.Planes = make([]Plane, len(p.Planes))
		for i, pl := range p.Planes {
			data := make([]byte, len(pl.Data))
			copy(data, pl.Data)
			out.Planes[i] = Plane{Data: data, Stride: pl.Stride}
		}
	}
	return out
}

// SourceDescriptor identifies one discoverable media source.
type SourceDescriptor struct {
	Name string
}

// Callbacks holds the per-event handlers a SourceCapture invokes once
// capture has started. Each is invoked synchronously on the capture
// thread; a nil handler is simply skipped.
type Callbacks struct {
	OnVideo func(frame PixelBuffer, timestamp100ns uint64, frameNumber uint64)
	OnAudio func(data []byte, timestamp100ns uint64, sampleRate, channels, samplesPerChannel int)
	// OnDisconnect is invoked at most once, after which StartCapture's
	// callbacks fire no more; err is nil for a clean stop.
	OnDisconnect func(err error)
}

// SourceCapture discovers and captures from a named local media source.
// Implementations wrap a platform media-discovery library; this module
// never implements SourceCapture itself.
type SourceCapture interface {
	// Initialize performs process-wide setup. Called once before Discover.
	Initialize() error
	// Discover enumerates currently visible sources for up to timeout.
	Discover(ctx context.Context, timeout time.Duration) ([]SourceDescriptor, error)
	// Connect binds the capture session to one discovered source.
	Connect(source SourceDescriptor) error
	// StartCapture begins invoking cb's handlers on the capture thread.
	// It returns once capture has started; callbacks continue to fire
	// asynchronously until Stop.
	StartCapture(cb Callbacks) error
	// Stop halts capture. After Stop returns, no callback passed to
	// StartCapture fires again.
	Stop() error
}

// SourceOutput republishes a received stream as a named local source.
// Implementations wrap a platform media-publishing library; this module
// never implements SourceOutput itself.
type SourceOutput interface {
	// Start announces the output source with an initial resolution hint.
	Start(initialWidth, initialHeight int) error
	SendVideo(frame PixelBuffer, timestamp100ns uint64)
	SendAudio(data []byte, timestamp100ns uint64, sampleRate, channels int)
	// SetResolution informs the output that the decoded resolution
	// changed, so framing metadata can be corrected.
	SetResolution(width, height int)
	Stop() error
}

// EncoderParams configures a RawEncoder. Zero-valued Width/Height mean
// "auto": codec.Encoder resolves them from the first captured frame before
// the underlying encode session is created. A zero FrameRateNum is not
// derived from the frames; codec.Encoder substitutes a fixed 30/1.
type EncoderParams struct {
	Width            int
	Height           int
	BitrateBPS       int
	KeyframeInterval int // frames
	FrameRateNum     int // 0 = auto
	FrameRateDen     int
	LowLatency       bool
	Profile          string
}

// RawEncodedFrame is one compressed access unit from a RawEncoder, in
// length-prefixed (AVCC) form with parameter sets held out-of-band via
// RawEncoder.ParameterSets.
type RawEncodedFrame struct {
	Payload    []byte
	IsKeyframe bool
	Timestamp  uint64
	Duration   uint64
}

// RawEncoder is the platform H.264 compression primitive driven by
// codec.Encoder. It performs no Annex-B framing or keyframe-interval
// policy of its own; that is codec.Encoder's job.
type RawEncoder interface {
	Configure(params EncoderParams) error
	// Encode compresses one pixel buffer. forceKeyframe requests that
	// this access unit be coded as an IDR.
	Encode(frame PixelBuffer, timestamp uint64, forceKeyframe bool) (RawEncodedFrame, error)
	// ParameterSets returns the current SPS/PPS (without start codes or
	// length prefixes), or ok=false if none have been produced yet.
	ParameterSets() (sps, pps []byte, ok bool)
	// Flush drains any frames buffered inside the encoder.
	Flush() ([]RawEncodedFrame, error)
	Close() error
}

// RawDecoder is the platform H.264 decompression primitive driven by
// codec.Decoder. One RawDecoder instance corresponds to one codec
// session, created once SPS and PPS are both known.
type RawDecoder interface {
	// Decode decompresses one length-prefixed (AVCC) access unit.
	Decode(avcc []byte, timestamp uint64) (PixelBuffer, error)
	Close() error
}

// RawDecoderFactory creates a new RawDecoder session once SPS and PPS
// have been parsed from the bitstream.
type RawDecoderFactory func(sps, pps []byte) (RawDecoder, error)
