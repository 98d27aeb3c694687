package codec

import "github.com/zsiec/ndibridge/capability"

// Encoder adapts a capability.RawEncoder into the transport payload shape:
// it resolves "auto" parameters from the first frame, enforces the
// keyframe-interval policy, and prefixes every keyframe's Annex-B payload
// with the current SPS and PPS. B-frames are never requested of the
// underlying encoder.
type Encoder struct {
	raw    capability.RawEncoder
	params capability.EncoderParams

	configured bool
	frameCount uint64
	forceNext  bool

	onOutput func(payload []byte, isKeyframe bool, timestamp, duration uint64)
}

// NewEncoder wraps raw with the Annex-B / keyframe-policy adapter.
func NewEncoder(raw capability.RawEncoder) *Encoder {
	return &Encoder{raw: raw}
}

// Configure records the requested parameters. Zero-valued Width/Height
// fields are resolved lazily from the first frame passed to Encode. A zero
// FrameRateNum becomes a fixed 30/1 at that point; it is not measured from
// the frames.
func (e *Encoder) Configure(params capability.EncoderParams) {
	e.params = params
	e.configured = false
	e.frameCount = 0
}

// SetOutput registers the callback invoked once per encoded access unit.
func (e *Encoder) SetOutput(cb func(payload []byte, isKeyframe bool, timestamp, duration uint64)) {
	e.onOutput = cb
}

// ForceKeyframe requests that the next call to Encode produce a keyframe.
func (e *Encoder) ForceKeyframe() {
	e.forceNext = true
}

// Encode compresses one pixel buffer and, on success, invokes the output
// callback with the resulting Annex-B payload: SPS+PPS-prefixed on a
// keyframe, P-frame NAL units only otherwise.
func (e *Encoder) Encode(frame capability.PixelBuffer, timestamp, duration uint64) error {
	if !e.configured {
		p := e.params
		if p.Width == 0 {
			p.Width = frame.Width
		}
		if p.Height == 0 {
			p.Height = frame.Height
		}
		if p.FrameRateNum == 0 {
			p.FrameRateNum, p.FrameRateDen = 30, 1
		}
		if p.KeyframeInterval == 0 {
			p.KeyframeInterval = 60
		}
		if err := e.raw.Configure(p); err != nil {
			return err
		}
		e.params = p
		e.configured = true
	}

	forceKeyframe := e.forceNext || e.frameCount == 0 ||
		(e.params.KeyframeInterval > 0 && e.frameCount%uint64(e.params.KeyframeInterval) == 0)
	e.forceNext = false

	out, err := e.raw.Encode(frame, timestamp, forceKeyframe)
	if err != nil {
		return err
	}
	e.frameCount++

	e.emit(out)
	return nil
}

// Flush drains any frames buffered inside the underlying encoder.
func (e *Encoder) Flush() error {
	frames, err := e.raw.Flush()
	if err != nil {
		return err
	}
	for _, f := range frames {
		e.emit(f)
	}
	return nil
}

func (e *Encoder) emit(out capability.RawEncodedFrame) {
	nals := LengthPrefixedToNALs(out.Payload)

	var assembled [][]byte
	if out.IsKeyframe {
		if sps, pps, ok := e.raw.ParameterSets(); ok {
			assembled = append(assembled, sps, pps)
		}
	}
	assembled = append(assembled, nals...)

	payload := BuildAnnexB(assembled...)
	if e.onOutput != nil {
		e.onOutput(payload, out.IsKeyframe, out.Timestamp, out.Duration)
	}
}
