package orchestrator

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/ndibridge/capability"
	"github.com/zsiec/ndibridge/codec"
	"github.com/zsiec/ndibridge/loopback"
	"github.com/zsiec/ndibridge/wire"
)

// fakeOutput records every call a Receiver makes against a SourceOutput.
type fakeOutput struct {
	mu          sync.Mutex
	started     bool
	startW      int
	startH      int
	videos      []struct {
		ts    uint64
		width int
	}
	audios      int
	resolutions [][2]int
}

func (f *fakeOutput) Start(w, h int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.startW, f.startH = w, h
	return nil
}

func (f *fakeOutput) SendVideo(frame capability.PixelBuffer, ts uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, struct {
		ts    uint64
		width int
	}{ts, frame.Width})
}

func (f *fakeOutput) SendAudio(data []byte, ts uint64, sampleRate, channels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audios++
}

func (f *fakeOutput) SetResolution(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutions = append(f.resolutions, [2]int{w, h})
}

func (f *fakeOutput) Stop() error { return nil }

func (f *fakeOutput) snapshotVideoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.videos)
}

func (f *fakeOutput) snapshotAudioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audios
}

func testPixelBuffer(width, height int, fill byte) capability.PixelBuffer {
	data := make([]byte, width*height*4)
	for i := range data {
		data[i] = fill
	}
	return capability.PixelBuffer{Format: capability.PixelFormatBGRA8, Width: width, Height: height, Planes: []capability.Plane{{Data: data, Stride: width * 4}}}
}

// Scenario S1: 300 video frames at 1920x1088 (first a keyframe), buffer=0
// (real-time). SourceOutput.SendVideo must be called exactly 300 times, in
// timestamp order.
func TestReceiverRealTimeDeliversAllFrames(t *testing.T) {
	output := &fakeOutput{}
	receiver := NewReceiver(loopback.NewDecoderFactory(), output, ReceiverConfig{Port: 0, BufferMS: 0}, nil)

	listenAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	probe, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		t.Fatal(err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()
	receiver.cfg.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- receiver.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the listener open

	conn, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	rawEnc := loopback.NewEncoder()
	enc := codec.NewEncoder(rawEnc)
	enc.Configure(capability.EncoderParams{Width: 1920, Height: 1088, KeyframeInterval: 30})

	const frameCount = 300
	var seq uint32
	enc.SetOutput(func(payload []byte, isKeyframe bool, ts, dur uint64) {
		var flags uint8
		if isKeyframe {
			flags = wire.KeyframeFlag
		}
		seq++
		meta := wire.FrameMeta{MediaType: wire.MediaTypeVideo, SequenceNumber: seq, Timestamp: ts, Flags: flags}
		datagrams, err := wire.Fragment(payload, meta, wire.DefaultPayloadMTU)
		if err != nil {
			t.Fatal(err)
		}
		for _, dg := range datagrams {
			if _, err := conn.Write(dg); err != nil {
				t.Fatal(err)
			}
		}
	})

	for i := 0; i < frameCount; i++ {
		if err := enc.Encode(testPixelBuffer(1920, 1088, byte(i)), uint64(i), 0); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for output.snapshotVideoCount() < frameCount && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-runDone

	if got := output.snapshotVideoCount(); got != frameCount {
		t.Fatalf("got %d delivered video frames, want %d", got, frameCount)
	}
	for i, v := range output.videos {
		if v.ts != uint64(i) {
			t.Fatalf("video[%d].ts = %d, want %d", i, v.ts, i)
		}
	}
}

