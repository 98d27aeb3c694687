// Package wire implements the fixed-width UDP datagram header used to carry
// fragmented video and audio frames between a host and a join endpoint, and
// the fragmentation policy that splits an encoded frame across datagrams.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the 4-byte tag ("NDIB") identifying a bridge datagram.
const Magic uint32 = 0x4E444942

// Protocol versions. Version 1 is the legacy video-only 28-byte header,
// accepted on receive but never emitted by a conformant sender. Version 2
// is the current 38-byte header carrying both video and audio.
const (
	Version1 = 1
	Version2 = 2
)

const (
	headerSizeV1 = 28
	headerSizeV2 = 38
)

// MediaType identifies whether a datagram carries video or audio.
type MediaType uint8

// Supported media types.
const (
	MediaTypeVideo MediaType = 0
	MediaTypeAudio MediaType = 1
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	default:
		return fmt.Sprintf("mediaType(%d)", uint8(m))
	}
}

// KeyframeFlag is bit 0 of Header.Flags; set for video keyframes, unused
// for audio.
const KeyframeFlag uint8 = 1 << 0

// DefaultPort is the default UDP port the wire protocol listens/sends on.
const DefaultPort = 5990

// DefaultPayloadMTU is the default per-datagram payload budget (1400 bytes
// of UDP payload including the 38-byte v2 header).
const DefaultPayloadMTU = 1400 - headerSizeV2

// Header is the decoded form of a datagram's fixed-width prefix. All
// integer fields are transmitted big-endian.
type Header struct {
	Version        uint8
	MediaType      MediaType
	SourceID       uint8
	Flags          uint8
	SequenceNumber uint32
	Timestamp      uint64 // 100-ns ticks
	TotalSize      uint32
	FragmentIndex  uint16
	FragmentCount  uint16
	PayloadSize    uint16
	SampleRate     uint32 // audio only
	Channels       uint8  // audio only
}

// IsKeyframe reports whether the keyframe flag is set. Meaningful for
// video headers only.
func (h Header) IsKeyframe() bool {
	return h.Flags&KeyframeFlag != 0
}

// ErrInvalidHeader is returned by DecodeHeader for any malformed input.
// Use errors.Is to test for it; the wrapped message records the specific
// cause (short buffer, bad magic, bad version, inconsistent fragment index).
var ErrInvalidHeader = errors.New("wire: invalid header")

// HeaderSize returns the wire size of the header for the given version,
// or 0 if the version is unrecognized.
func HeaderSize(version uint8) int {
	switch version {
	case Version1:
		return headerSizeV1
	case Version2:
		return headerSizeV2
	default:
		return 0
	}
}

// EncodeHeader writes h in wire format. It always emits a version-2
// (38-byte) header; the send path never produces legacy version-1
// datagrams. EncodeHeader refuses to emit a header whose declared
// PayloadSize exceeds maxMTU minus the 38-byte header; it is the caller's
// responsibility to have fragmented the frame first.
func EncodeHeader(h Header, maxMTU int) ([]byte, error) {
	if int(h.PayloadSize) > maxMTU-headerSizeV2 {
		return nil, fmt.Errorf("wire: payload size %d exceeds mtu budget %d", h.PayloadSize, maxMTU-headerSizeV2)
	}
	if h.FragmentCount == 0 {
		return nil, fmt.Errorf("wire: fragment count must be >= 1")
	}
	if h.FragmentIndex >= h.FragmentCount {
		return nil, fmt.Errorf("wire: fragment index %d >= fragment count %d", h.FragmentIndex, h.FragmentCount)
	}

	buf := make([]byte, headerSizeV2)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = Version2
	buf[5] = byte(h.MediaType)
	buf[6] = h.SourceID
	buf[7] = h.Flags
	binary.BigEndian.PutUint32(buf[8:12], h.SequenceNumber)
	binary.BigEndian.PutUint64(buf[12:20], h.Timestamp)
	binary.BigEndian.PutUint32(buf[20:24], h.TotalSize)
	binary.BigEndian.PutUint16(buf[24:26], h.FragmentIndex)
	binary.BigEndian.PutUint16(buf[26:28], h.FragmentCount)
	binary.BigEndian.PutUint16(buf[28:30], h.PayloadSize)
	binary.BigEndian.PutUint32(buf[30:34], h.SampleRate)
	buf[34] = h.Channels
	// buf[35:38] reserved, left zero

	return buf, nil
}

// DecodeHeader parses the fixed-width prefix of a datagram. It rejects
// (wrapping ErrInvalidHeader) datagrams shorter than the minimum header
// size for their declared version, datagrams with a bad magic tag, and
// datagrams with an unrecognized version. It accepts both the legacy
// 28-byte version-1 header and the current 38-byte version-2 header.
//
// If the header's declared PayloadSize disagrees with the number of
// payload bytes actually present in data, DecodeHeader clamps PayloadSize
// down to what is present rather than trusting the header blindly; it
// never reports a PayloadSize larger than the bytes available.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 5 {
		return Header{}, fmt.Errorf("%w: datagram too short (%d bytes)", ErrInvalidHeader, len(data))
	}
	if binary.BigEndian.Uint32(data[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	version := data[4]

	size := HeaderSize(version)
	if size == 0 {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, version)
	}
	if len(data) < size {
		return Header{}, fmt.Errorf("%w: datagram too short for version %d (%d bytes)", ErrInvalidHeader, version, len(data))
	}

	var h Header
	h.Version = version

	switch version {
	case Version1:
		h.MediaType = MediaTypeVideo
		h.Flags = data[5]
		h.SequenceNumber = binary.BigEndian.Uint32(data[6:10])
		h.Timestamp = binary.BigEndian.Uint64(data[10:18])
		h.TotalSize = binary.BigEndian.Uint32(data[18:22])
		h.FragmentIndex = binary.BigEndian.Uint16(data[22:24])
		h.FragmentCount = binary.BigEndian.Uint16(data[24:26])
		h.PayloadSize = binary.BigEndian.Uint16(data[26:28])
	case Version2:
		h.MediaType = MediaType(data[5])
		h.SourceID = data[6]
		h.Flags = data[7]
		h.SequenceNumber = binary.BigEndian.Uint32(data[8:12])
		h.Timestamp = binary.BigEndian.Uint64(data[12:20])
		h.TotalSize = binary.BigEndian.Uint32(data[20:24])
		h.FragmentIndex = binary.BigEndian.Uint16(data[24:26])
		h.FragmentCount = binary.BigEndian.Uint16(data[26:28])
		h.PayloadSize = binary.BigEndian.Uint16(data[28:30])
		h.SampleRate = binary.BigEndian.Uint32(data[30:34])
		h.Channels = data[34]
	}

	if h.FragmentCount == 0 {
		return Header{}, fmt.Errorf("%w: fragment count is zero", ErrInvalidHeader)
	}
	if h.FragmentIndex >= h.FragmentCount {
		return Header{}, fmt.Errorf("%w: fragment index %d >= fragment count %d", ErrInvalidHeader, h.FragmentIndex, h.FragmentCount)
	}

	available := len(data) - size
	if int(h.PayloadSize) > available {
		h.PayloadSize = uint16(available)
	}

	return h, nil
}

// Payload returns the payload slice following the header in data,
// clamped to h.PayloadSize. The caller must have already validated data
// with DecodeHeader.
func Payload(data []byte, h Header) []byte {
	size := HeaderSize(h.Version)
	end := size + int(h.PayloadSize)
	if end > len(data) {
		end = len(data)
	}
	return data[size:end]
}
