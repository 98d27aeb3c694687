package reassembly

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/zsiec/ndibridge/wire"
)

func fragmentsFor(t *testing.T, payload []byte, seq uint32, mtu int) []wire.Datagram {
	t.Helper()
	dgs, err := wire.Fragment(payload, wire.FrameMeta{MediaType: wire.MediaTypeVideo, SequenceNumber: seq, Timestamp: 1000, Flags: wire.KeyframeFlag}, mtu)
	if err != nil {
		t.Fatal(err)
	}
	return dgs
}

func admitDatagram(t *testing.T, slot *Slot, dg wire.Datagram) (Frame, bool) {
	t.Helper()
	h, err := wire.DecodeHeader(dg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return slot.Admit(h, wire.Payload(dg, h))
}

// Property 3: any permutation of one sequence's fragments reassembles to
// the original frame exactly once.
func TestReassemblerAnyPermutation(t *testing.T) {
	payload := make([]byte, 9000)
	rand.New(rand.NewSource(1)).Read(payload)
	dgs := fragmentsFor(t, payload, 7, 1362)

	perm := rand.New(rand.NewSource(2)).Perm(len(dgs))

	slot := NewSlot()
	var got Frame
	completions := 0
	for _, idx := range perm {
		f, ok := admitDatagram(t, slot, dgs[idx])
		if ok {
			completions++
			got = f
		}
	}

	if completions != 1 {
		t.Fatalf("got %d completions, want 1", completions)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got.Payload), len(payload))
	}
	if got.SequenceNumber != 7 || got.Timestamp != 1000 || !got.IsKeyframe() {
		t.Fatalf("unexpected frame metadata: %+v", got)
	}
}

// Property 4 / scenario S6: a missing middle fragment causes the whole
// frame to be dropped once a later sequence begins.
func TestReassemblerDropsOnMissingFragment(t *testing.T) {
	payload := make([]byte, 4000)
	dgs := fragmentsFor(t, payload, 7, 1362)
	if len(dgs) < 3 {
		t.Fatalf("need at least 3 fragments for this test, got %d", len(dgs))
	}

	slot := NewSlot()
	// Admit fragment 1 of 3 (per S6), skipping fragment 0.
	if _, ok := admitDatagram(t, slot, dgs[1]); ok {
		t.Fatal("unexpected completion from a partial sequence")
	}

	// A later sequence arrives; the partial sequence 7 must be dropped
	// silently (no completion) and the new sequence must complete normally.
	nextPayload := []byte("next frame")
	nextDgs, err := wire.Fragment(nextPayload, wire.FrameMeta{MediaType: wire.MediaTypeVideo, SequenceNumber: 8, Timestamp: 2000}, 1362)
	if err != nil {
		t.Fatal(err)
	}

	var completions []Frame
	for _, dg := range nextDgs {
		if f, ok := admitDatagram(t, slot, dg); ok {
			completions = append(completions, f)
		}
	}

	if len(completions) != 1 {
		t.Fatalf("got %d completions, want 1 (only sequence 8)", len(completions))
	}
	if completions[0].SequenceNumber != 8 {
		t.Fatalf("completed sequence = %d, want 8", completions[0].SequenceNumber)
	}
	if !bytes.Equal(completions[0].Payload, nextPayload) {
		t.Fatalf("payload mismatch for sequence 8")
	}

	if got := slot.Stats.Dropped.Load(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

// Scenario S5: out-of-order fragment arrival within one sequence still
// produces exactly one completed frame with the concatenated payload.
func TestReassemblerScenarioS5(t *testing.T) {
	slot := NewSlot()
	f0 := []byte("AAA")
	f1 := []byte("BBB")
	f2 := []byte("CCC")

	mk := func(idx, count uint16, payload []byte) wire.Header {
		return wire.Header{MediaType: wire.MediaTypeVideo, SequenceNumber: 7, Timestamp: 5, FragmentIndex: idx, FragmentCount: count, TotalSize: 9, PayloadSize: uint16(len(payload))}
	}

	if _, ok := slot.Admit(mk(1, 3, f1), f1); ok {
		t.Fatal("unexpected early completion")
	}
	if _, ok := slot.Admit(mk(0, 3, f0), f0); ok {
		t.Fatal("unexpected early completion")
	}
	frame, ok := slot.Admit(mk(2, 3, f2), f2)
	if !ok {
		t.Fatal("expected completion on third fragment")
	}
	if !bytes.Equal(frame.Payload, []byte("AAABBBCCC")) {
		t.Fatalf("payload = %q, want %q", frame.Payload, "AAABBBCCC")
	}
}

func TestSlotLastWriterWinsOnDuplicateIndex(t *testing.T) {
	slot := NewSlot()
	h := wire.Header{MediaType: wire.MediaTypeVideo, SequenceNumber: 1, FragmentIndex: 0, FragmentCount: 2, TotalSize: 6, PayloadSize: 3}
	if _, ok := slot.Admit(h, []byte("old")); ok {
		t.Fatal("first of two fragments should not complete the frame")
	}
	if _, ok := slot.Admit(h, []byte("new")); ok {
		t.Fatal("a duplicate index should not complete the frame")
	}
	h.FragmentIndex = 1
	frame, ok := slot.Admit(h, []byte("end"))
	if !ok {
		t.Fatal("expected completion once both indices arrived")
	}
	if !bytes.Equal(frame.Payload, []byte("newend")) {
		t.Fatalf("payload = %q, want %q", frame.Payload, "newend")
	}
}

func TestSlotSingleFragmentCompletesImmediately(t *testing.T) {
	slot := NewSlot()
	h := wire.Header{MediaType: wire.MediaTypeAudio, SequenceNumber: 1, FragmentIndex: 0, FragmentCount: 1, TotalSize: 3, PayloadSize: 3, SampleRate: 48000, Channels: 2}
	frame, ok := slot.Admit(h, []byte("pcm"))
	if !ok {
		t.Fatal("expected immediate completion for a single-fragment frame")
	}
	if frame.SampleRate != 48000 || frame.Channels != 2 {
		t.Fatalf("audio metadata not captured: %+v", frame)
	}
}

func TestSlotSizeMismatchStillDelivers(t *testing.T) {
	slot := NewSlot()
	h := wire.Header{MediaType: wire.MediaTypeVideo, SequenceNumber: 1, FragmentIndex: 0, FragmentCount: 1, TotalSize: 999, PayloadSize: 3}
	frame, ok := slot.Admit(h, []byte("abc"))
	if !ok {
		t.Fatal("expected delivery despite size mismatch")
	}
	if !bytes.Equal(frame.Payload, []byte("abc")) {
		t.Fatalf("payload = %q", frame.Payload)
	}
	if got := slot.Stats.SizeMismatch.Load(); got != 1 {
		t.Fatalf("SizeMismatch = %d, want 1", got)
	}
}

func TestReassemblerRoutesByMediaType(t *testing.T) {
	r := New()
	vh := wire.Header{MediaType: wire.MediaTypeVideo, FragmentCount: 1, PayloadSize: 1}
	ah := wire.Header{MediaType: wire.MediaTypeAudio, FragmentCount: 1, PayloadSize: 1}

	if _, ok := r.Admit(vh, []byte("v")); !ok {
		t.Fatal("expected video completion")
	}
	if _, ok := r.Admit(ah, []byte("a")); !ok {
		t.Fatal("expected audio completion")
	}
	if r.Video.Stats.Completed.Load() != 1 || r.Audio.Stats.Completed.Load() != 1 {
		t.Fatal("stats not tracked independently per media type")
	}
}
