package wire

import "fmt"

// FrameMeta carries the per-frame fields shared by every fragment of one
// logical frame: media type, sequence number, presentation timestamp, and
// flags (keyframe bit for video). Audio fragments additionally carry
// sample rate and channel count.
type FrameMeta struct {
	MediaType      MediaType
	SequenceNumber uint32
	Timestamp      uint64
	Flags          uint8
	SampleRate     uint32
	Channels       uint8
}

// Datagram is one fragment ready to be written to a UDP socket: the
// encoded 38-byte header followed by this fragment's slice of the frame
// payload.
type Datagram []byte

// Fragment splits payload into ⌈len(payload)/maxPayload⌉ datagrams, each
// carrying up to maxPayload bytes and a header sharing meta's sequence
// number, timestamp, and flags. maxPayload is the per-datagram payload
// budget (MTU minus the 38-byte header); it must be at least 1.
//
// Concatenating the returned datagrams' payloads in order reproduces
// payload exactly.
func Fragment(payload []byte, meta FrameMeta, maxPayload int) ([]Datagram, error) {
	if maxPayload < 1 {
		return nil, fmt.Errorf("wire: maxPayload must be >= 1, got %d", maxPayload)
	}

	count := 1
	if len(payload) > 0 {
		count = (len(payload) + maxPayload - 1) / maxPayload
	}
	if count == 0 {
		count = 1
	}

	datagrams := make([]Datagram, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		frag := payload[start:end]

		h := Header{
			MediaType:      meta.MediaType,
			Flags:          meta.Flags,
			SequenceNumber: meta.SequenceNumber,
			Timestamp:      meta.Timestamp,
			TotalSize:      uint32(len(payload)),
			FragmentIndex:  uint16(i),
			FragmentCount:  uint16(count),
			PayloadSize:    uint16(len(frag)),
			SampleRate:     meta.SampleRate,
			Channels:       meta.Channels,
		}

		encoded, err := EncodeHeader(h, maxPayload+headerSizeV2)
		if err != nil {
			return nil, err
		}

		dg := make(Datagram, 0, len(encoded)+len(frag))
		dg = append(dg, encoded...)
		dg = append(dg, frag...)
		datagrams = append(datagrams, dg)
	}

	return datagrams, nil
}
