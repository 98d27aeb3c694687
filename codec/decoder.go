package codec

import (
	"bytes"

	"github.com/zsiec/ndibridge/capability"
)

// Decoder adapts a capability.RawDecoder into the transport payload shape:
// it scans an Annex-B payload for SPS/PPS updates, creates the underlying
// session lazily once both are known, invalidates and recreates it on a
// parameter-set change, and feeds slice (and any unrecognized) NAL units
// to the session in length-prefixed form.
type Decoder struct {
	factory capability.RawDecoderFactory
	raw     capability.RawDecoder

	sps, pps []byte

	lastWidth, lastHeight int

	onOutput     func(frame capability.PixelBuffer, timestamp uint64)
	onResolution func(width, height int)
}

// NewDecoder creates a Decoder that lazily builds sessions via factory.
func NewDecoder(factory capability.RawDecoderFactory) *Decoder {
	return &Decoder{factory: factory}
}

// SetOutput registers the callback invoked once per decoded picture.
func (d *Decoder) SetOutput(cb func(frame capability.PixelBuffer, timestamp uint64)) {
	d.onOutput = cb
}

// SetResolutionCallback registers a callback invoked the first time a
// decoded picture's resolution is known, and again on any later change.
func (d *Decoder) SetResolutionCallback(cb func(width, height int)) {
	d.onResolution = cb
}

// Decode parses one Annex-B payload. SPS/PPS NAL units update the cached
// parameter sets; IDR, non-IDR, and any other NAL type are decoded
// through the underlying session once it exists.
func (d *Decoder) Decode(payload []byte, timestamp uint64) error {
	nals := ParseAnnexB(payload)

	var toDecode [][]byte
	paramsChanged := false

	for _, n := range nals {
		switch {
		case IsSPS(n.Type):
			if d.sps == nil || !bytes.Equal(d.sps, n.Data) {
				paramsChanged = paramsChanged || d.sps != nil
				d.sps = append([]byte(nil), n.Data...)
			}
		case IsPPS(n.Type):
			if d.pps == nil || !bytes.Equal(d.pps, n.Data) {
				paramsChanged = paramsChanged || d.pps != nil
				d.pps = append([]byte(nil), n.Data...)
			}
		default:
			toDecode = append(toDecode, n.Data)
		}
	}

	if d.sps == nil || d.pps == nil {
		return nil // waiting for both parameter sets
	}

	if paramsChanged && d.raw != nil {
		if err := d.raw.Close(); err != nil {
			return err
		}
		d.raw = nil
	}

	if d.raw == nil {
		raw, err := d.factory(d.sps, d.pps)
		if err != nil {
			return err
		}
		d.raw = raw
		d.reportResolution()
	}

	for _, nalData := range toDecode {
		avcc := AnnexBToLengthPrefixed([][]byte{nalData})
		pix, err := d.raw.Decode(avcc, timestamp)
		if err != nil {
			return err
		}
		if d.onOutput != nil {
			d.onOutput(pix, timestamp)
		}
	}

	return nil
}

func (d *Decoder) reportResolution() {
	info, err := ParseSPS(d.sps)
	if err != nil {
		return
	}
	if info.Width == d.lastWidth && info.Height == d.lastHeight {
		return
	}
	d.lastWidth, d.lastHeight = info.Width, info.Height
	if d.onResolution != nil {
		d.onResolution(info.Width, info.Height)
	}
}

// Close releases the underlying session, if one exists.
func (d *Decoder) Close() error {
	if d.raw == nil {
		return nil
	}
	err := d.raw.Close()
	d.raw = nil
	return err
}
