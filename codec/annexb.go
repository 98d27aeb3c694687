// Package codec adapts between the wire transport's Annex-B H.264
// elementary stream and whatever shape the platform codec (capability.
// RawEncoder / capability.RawDecoder) uses natively. It owns frame
// counting, keyframe-interval policy, and SPS/PPS lifecycle; it performs
// no actual video compression itself.
package codec

import "encoding/binary"

// H.264 NAL unit type constants (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// StartCode4 is the 4-byte Annex-B start code prefix this package always
// emits. The 3-byte form (StartCode3) is accepted on parse but never
// produced.
var (
	StartCode4 = []byte{0, 0, 0, 1}
	StartCode3 = []byte{0, 0, 1}
)

// NALUnit is one parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // low 5 bits of the NAL header byte
	Data []byte // raw NAL data including the header byte, without start code
}

// IsKeyframe reports whether t is an IDR slice.
func IsKeyframe(t byte) bool { return t == NALTypeIDR }

// IsSPS reports whether t is a Sequence Parameter Set.
func IsSPS(t byte) bool { return t == NALTypeSPS }

// IsPPS reports whether t is a Picture Parameter Set.
func IsPPS(t byte) bool { return t == NALTypePPS }

// ParseAnnexB scans data for Annex-B start codes and returns the NAL units
// between them. Both the 3-byte (0x000001) and 4-byte (0x00000001) start
// code forms are recognized; where a 3-byte match is immediately preceded
// by a zero byte, the longer 4-byte match is preferred. Unknown NAL types
// are returned, not dropped; routing decisions are the caller's
// responsibility.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nalData := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
	}

	return units
}

// BuildAnnexB concatenates nalus, each prefixed with the 4-byte start
// code, in order.
func BuildAnnexB(nalus ...[]byte) []byte {
	total := 0
	for _, n := range nalus {
		total += 4 + len(n)
	}
	out := make([]byte, 0, total)
	for _, n := range nalus {
		out = append(out, StartCode4...)
		out = append(out, n...)
	}
	return out
}

// stripStartCode removes a leading 3- or 4-byte Annex-B start code, if present.
func stripStartCode(nalu []byte) []byte {
	if len(nalu) >= 4 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 0 && nalu[3] == 1 {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}

// AnnexBToLengthPrefixed converts a list of Annex-B NAL units (each either
// raw or start-code-prefixed) into the 4-byte big-endian length-prefixed
// ("AVCC") form used by capability.RawEncoder/RawDecoder.
func AnnexBToLengthPrefixed(nalus [][]byte) []byte {
	var total int
	for _, n := range nalus {
		total += 4 + len(stripStartCode(n))
	}
	out := make([]byte, 0, total)
	for _, n := range nalus {
		raw := stripStartCode(n)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
		out = append(out, lenBuf[:]...)
		out = append(out, raw...)
	}
	return out
}

// LengthPrefixedToNALs splits a 4-byte big-endian length-prefixed byte
// string (AVCC form) into its constituent raw NAL units.
func LengthPrefixedToNALs(data []byte) [][]byte {
	var out [][]byte
	for len(data) >= 4 {
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < n {
			break
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
