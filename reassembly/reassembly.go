// Package reassembly turns a stream of fragmented wire datagrams back into
// whole frames, one independent slot per media type. It implements the
// complete-or-drop admission algorithm: a sequence change discards any
// partially filled slot, and a slot is emitted and cleared the instant its
// last fragment arrives.
package reassembly

import (
	"sync/atomic"

	"github.com/zsiec/ndibridge/wire"
)

// Frame is a fully reassembled logical frame, ready for the codec adapter
// (video) or direct output (audio).
type Frame struct {
	MediaType      wire.MediaType
	SequenceNumber uint32
	Timestamp      uint64
	Flags          uint8
	Payload        []byte
	SampleRate     uint32
	Channels       uint8
}

// IsKeyframe reports whether the keyframe flag was set on this frame's
// fragments. Meaningful for video frames only.
func (f Frame) IsKeyframe() bool {
	return f.Flags&wire.KeyframeFlag != 0
}

// Stats holds observability counters for a Slot. All fields are updated
// with atomic operations and safe to read concurrently with Admit.
type Stats struct {
	Completed    atomic.Int64
	Dropped      atomic.Int64 // partial frames discarded on sequence change
	SizeMismatch atomic.Int64 // frames delivered despite a totalSize mismatch
}

// Snapshot is a point-in-time copy of Stats suitable for logging or an API response.
type Snapshot struct {
	Completed    int64
	Dropped      int64
	SizeMismatch int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Completed:    s.Completed.Load(),
		Dropped:      s.Dropped.Load(),
		SizeMismatch: s.SizeMismatch.Load(),
	}
}

// Slot is the reassembly state for a single media type. A Slot is not
// safe for concurrent use: it is owned exclusively by the network-receive
// goroutine.
type Slot struct {
	Stats Stats

	hasCurrent        bool
	currentSequence   uint32
	expectedCount     uint16
	expectedTotalSize uint32
	timestamp         uint64
	flags             uint8
	sampleRate        uint32
	channels          uint8
	mediaType         wire.MediaType
	fragments         map[uint16][]byte
}

// NewSlot creates an empty reassembly slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Admit feeds one fragment's header and payload into the slot. It returns
// the completed frame and true once every fragment of the current sequence
// has arrived; otherwise it returns the zero Frame and false.
//
// On a sequence change, any fragments already buffered for the previous
// sequence are discarded (Stats.Dropped is incremented) before the new
// sequence is started: a slot never holds fragments from more than one
// sequence at a time.
func (s *Slot) Admit(h wire.Header, payload []byte) (Frame, bool) {
	if !s.hasCurrent || h.SequenceNumber != s.currentSequence {
		if s.hasCurrent && len(s.fragments) > 0 {
			s.Stats.Dropped.Add(1)
		}
		s.hasCurrent = true
		s.currentSequence = h.SequenceNumber
		s.expectedCount = h.FragmentCount
		s.expectedTotalSize = h.TotalSize
		s.timestamp = h.Timestamp
		s.flags = h.Flags
		s.sampleRate = h.SampleRate
		s.channels = h.Channels
		s.mediaType = h.MediaType
		s.fragments = make(map[uint16][]byte, h.FragmentCount)
	}

	// Last-writer-wins on a duplicate index; copy so the caller's receive
	// buffer can be reused for the next datagram.
	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.fragments[h.FragmentIndex] = stored

	if len(s.fragments) != int(s.expectedCount) {
		return Frame{}, false
	}

	total := 0
	for i := uint16(0); i < s.expectedCount; i++ {
		total += len(s.fragments[i])
	}
	out := make([]byte, 0, total)
	for i := uint16(0); i < s.expectedCount; i++ {
		out = append(out, s.fragments[i]...)
	}

	if uint32(len(out)) != s.expectedTotalSize {
		s.Stats.SizeMismatch.Add(1)
	}

	frame := Frame{
		MediaType:      s.mediaType,
		SequenceNumber: s.currentSequence,
		Timestamp:      s.timestamp,
		Flags:          s.flags,
		Payload:        out,
		SampleRate:     s.sampleRate,
		Channels:       s.channels,
	}

	s.hasCurrent = false
	s.fragments = nil
	s.Stats.Completed.Add(1)

	return frame, true
}

// Reassembler owns one Slot per media type and routes each arriving
// datagram to the correct one.
type Reassembler struct {
	Video *Slot
	Audio *Slot
}

// New creates a Reassembler with empty video and audio slots.
func New() *Reassembler {
	return &Reassembler{
		Video: NewSlot(),
		Audio: NewSlot(),
	}
}

// Admit routes h/payload to the slot matching h.MediaType.
func (r *Reassembler) Admit(h wire.Header, payload []byte) (Frame, bool) {
	if h.MediaType == wire.MediaTypeAudio {
		return r.Audio.Admit(h, payload)
	}
	return r.Video.Admit(h, payload)
}
