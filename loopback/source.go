package loopback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/ndibridge/capability"
)

// SyntheticCapture is a capability.SourceCapture that manufactures a single
// discoverable source ("Loopback Test Pattern") and, once started, emits a
// solid color test-pattern frame at a fixed rate plus a silent audio tone.
// It exists to drive a runnable demo and end-to-end tests without a real
// platform capture device.
type SyntheticCapture struct {
	log        *slog.Logger
	width      int
	height     int
	frameRate  int
	sampleRate int
	channels   int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSyntheticCapture creates a SyntheticCapture emitting width x height
// BGRA8 frames at frameRate fps and PCM audio at sampleRate/channels.
func NewSyntheticCapture(width, height, frameRate, sampleRate, channels int) *SyntheticCapture {
	return &SyntheticCapture{
		log:        slog.With("component", "loopback-capture"),
		width:      width,
		height:     height,
		frameRate:  frameRate,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (c *SyntheticCapture) Initialize() error { return nil }

func (c *SyntheticCapture) Discover(ctx context.Context, timeout time.Duration) ([]capability.SourceDescriptor, error) {
	return []capability.SourceDescriptor{{Name: "Loopback Test Pattern"}}, nil
}

func (c *SyntheticCapture) Connect(source capability.SourceDescriptor) error { return nil }

// StartCapture begins emitting frames on a background goroutine until Stop
// is called.
func (c *SyntheticCapture) StartCapture(cb capability.Callbacks) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, cb)
	return nil
}

func (c *SyntheticCapture) run(ctx context.Context, cb capability.Callbacks) {
	defer c.wg.Done()

	videoTick := time.NewTicker(time.Second / time.Duration(c.frameRate))
	defer videoTick.Stop()
	audioTick := time.NewTicker(20 * time.Millisecond)
	defer audioTick.Stop()

	var frameNumber uint64
	var videoTicks, audioTicks uint64
	frameBytes := c.width * c.height * 4

	for {
		select {
		case <-ctx.Done():
			if cb.OnDisconnect != nil {
				cb.OnDisconnect(nil)
			}
			return
		case <-videoTick.C:
			if cb.OnVideo == nil {
				continue
			}
			data := make([]byte, frameBytes)
			fill := byte(frameNumber % 256)
			for i := range data {
				data[i] = fill
			}
			frame := capability.PixelBuffer{
				Format: capability.PixelFormatBGRA8,
				Width:  c.width,
				Height: c.height,
				Planes: []capability.Plane{{Data: data, Stride: c.width * 4}},
			}
			videoTicks++
			cb.OnVideo(frame, videoTicks*10000000/uint64(c.frameRate), frameNumber)
			frameNumber++
		case <-audioTick.C:
			if cb.OnAudio == nil {
				continue
			}
			samplesPerChannel := c.sampleRate / 50 // 20ms worth
			data := make([]byte, samplesPerChannel*c.channels*2)
			audioTicks++
			cb.OnAudio(data, audioTicks*200000, c.sampleRate, c.channels, samplesPerChannel)
		}
	}
}

// Stop halts the background goroutine and waits for it to exit.
func (c *SyntheticCapture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// DiscardOutput is a capability.SourceOutput that counts received frames
// via atomic counters and logs them, discarding the payloads. It stands in
// for a real platform output (e.g. a local NDI source) the same way
// SyntheticCapture stands in for a real capture device.
type DiscardOutput struct {
	log *slog.Logger

	videos atomic.Int64
	audios atomic.Int64
}

// NewDiscardOutput creates a DiscardOutput.
func NewDiscardOutput() *DiscardOutput {
	return &DiscardOutput{log: slog.With("component", "loopback-output")}
}

func (o *DiscardOutput) Start(initialWidth, initialHeight int) error {
	o.log.Info("output started", "width", initialWidth, "height", initialHeight)
	return nil
}

func (o *DiscardOutput) SendVideo(frame capability.PixelBuffer, timestamp100ns uint64) {
	o.videos.Add(1)
}

func (o *DiscardOutput) SendAudio(data []byte, timestamp100ns uint64, sampleRate, channels int) {
	o.audios.Add(1)
}

func (o *DiscardOutput) SetResolution(width, height int) {
	o.log.Info("resolution changed", "width", width, "height", height)
}

func (o *DiscardOutput) Stop() error {
	o.log.Info("output stopped", "videos", o.videos.Load(), "audios", o.audios.Load())
	return nil
}
