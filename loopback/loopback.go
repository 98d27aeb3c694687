// Package loopback is a pure-Go stand-in for a real platform H.264 codec.
// It implements capability.RawEncoder and capability.RawDecoder by
// round-tripping a PixelBuffer's raw bytes through a synthetic bitstream
// that still carries a real (if minimal) SPS/PPS pair, so the codec
// package's Annex-B framing, keyframe policy, and resolution-change
// detection all exercise real code paths. It performs no actual video
// compression. It drives the orchestrators' tests and the end-to-end
// scenarios, and cmd/bridge uses it as its codec because this module
// carries no platform codec binding.
package loopback

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/ndibridge/capability"
	"github.com/zsiec/ndibridge/codec"
)

// Encoder is a capability.RawEncoder that "compresses" a frame by encoding
// its format, dimensions, and plane bytes verbatim into the access unit
// payload.
type Encoder struct {
	params capability.EncoderParams
	sps    []byte
	pps    []byte
}

// NewEncoder creates an unconfigured loopback Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Configure synthesizes a baseline SPS/PPS for params' dimensions. Width
// and height must be multiples of 16 (codec.BuildMinimalSPS's constraint).
func (e *Encoder) Configure(params capability.EncoderParams) error {
	e.params = params
	e.sps = codec.BuildMinimalSPS(params.Width, params.Height)
	e.pps = codec.BuildMinimalPPS()
	return nil
}

// Encode serializes frame into a single access-unit payload tagged IDR or
// a non-IDR slice depending on forceKeyframe.
func (e *Encoder) Encode(frame capability.PixelBuffer, timestamp uint64, forceKeyframe bool) (capability.RawEncodedFrame, error) {
	nalType := byte(codec.NALTypeSlice)
	if forceKeyframe {
		nalType = codec.NALTypeIDR
	}
	nal := append([]byte{nalType}, marshalFrame(frame)...)
	return capability.RawEncodedFrame{
		Payload:    codec.AnnexBToLengthPrefixed([][]byte{nal}),
		IsKeyframe: forceKeyframe,
		Timestamp:  timestamp,
	}, nil
}

// ParameterSets returns the SPS/PPS synthesized by Configure.
func (e *Encoder) ParameterSets() (sps, pps []byte, ok bool) {
	if e.sps == nil {
		return nil, nil, false
	}
	return e.sps, e.pps, true
}

// Flush is a no-op: the loopback encoder never buffers frames internally.
func (e *Encoder) Flush() ([]capability.RawEncodedFrame, error) { return nil, nil }

// Close is a no-op.
func (e *Encoder) Close() error { return nil }

// Decoder is a capability.RawDecoderFactory target and capability.RawDecoder
// that reconstructs the PixelBuffer a loopback Encoder serialized.
type Decoder struct {
	width, height int
}

// NewDecoderFactory returns a capability.RawDecoderFactory producing
// Decoder sessions whose reported dimensions come from parsing sps.
func NewDecoderFactory() capability.RawDecoderFactory {
	return func(sps, pps []byte) (capability.RawDecoder, error) {
		info, err := codec.ParseSPS(sps)
		if err != nil {
			return nil, fmt.Errorf("loopback: parse sps: %w", err)
		}
		return &Decoder{width: info.Width, height: info.Height}, nil
	}
}

// Decode reconstructs the PixelBuffer encoded by Encoder.Encode.
func (d *Decoder) Decode(avcc []byte, timestamp uint64) (capability.PixelBuffer, error) {
	nals := codec.LengthPrefixedToNALs(avcc)
	if len(nals) == 0 || len(nals[0]) < 1 {
		return capability.PixelBuffer{}, fmt.Errorf("loopback: empty access unit")
	}
	return unmarshalFrame(nals[0][1:])
}

// Close is a no-op.
func (d *Decoder) Close() error { return nil }

// marshalFrame encodes format, width, height, plane count, and each
// plane's stride and bytes into a flat buffer.
func marshalFrame(frame capability.PixelBuffer) []byte {
	buf := make([]byte, 0, 16+len(frame.Planes)*8)
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(frame.Format))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(frame.Width))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(frame.Height))
	buf = append(buf, hdr[:]...)

	var planeCount [4]byte
	binary.BigEndian.PutUint32(planeCount[:], uint32(len(frame.Planes)))
	buf = append(buf, planeCount[:]...)

	for _, p := range frame.Planes {
		var planeHdr [8]byte
		binary.BigEndian.PutUint32(planeHdr[0:4], uint32(p.Stride))
		binary.BigEndian.PutUint32(planeHdr[4:8], uint32(len(p.Data)))
		buf = append(buf, planeHdr[:]...)
		buf = append(buf, p.Data...)
	}
	return buf
}

func unmarshalFrame(data []byte) (capability.PixelBuffer, error) {
	if len(data) < 16 {
		return capability.PixelBuffer{}, fmt.Errorf("loopback: truncated frame header")
	}
	frame := capability.PixelBuffer{
		Format: capability.PixelFormat(binary.BigEndian.Uint32(data[0:4])),
		Width:  int(binary.BigEndian.Uint32(data[4:8])),
		Height: int(binary.BigEndian.Uint32(data[8:12])),
	}
	planeCount := int(binary.BigEndian.Uint32(data[12:16]))
	offset := 16
	frame.Planes = make([]capability.Plane, 0, planeCount)
	for i := 0; i < planeCount; i++ {
		if len(data) < offset+8 {
			return capability.PixelBuffer{}, fmt.Errorf("loopback: truncated plane header")
		}
		stride := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		size := int(binary.BigEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if len(data) < offset+size {
			return capability.PixelBuffer{}, fmt.Errorf("loopback: truncated plane data")
		}
		planeData := make([]byte, size)
		copy(planeData, data[offset:offset+size])
		frame.Planes = append(frame.Planes, capability.Plane{Data: planeData, Stride: stride})
		offset += size
	}
	return frame, nil
}
