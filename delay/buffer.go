// Package delay implements the receiver's optional presentation-delay
// line: two FIFO queues (video, audio) that release entries once a fixed
// wall-clock duration has passed since enqueue. Every entry is deep
// copied at enqueue time so the buffer owns its data independently of
// any pool the decoder recycles its pixel buffers from.
package delay

import (
	"sync"
	"time"

	"github.com/zsiec/ndibridge/capability"
)

// VideoOutput is one video entry released by DequeueReady.
type VideoOutput struct {
	Frame     capability.PixelBuffer
	Timestamp uint64
}

// AudioOutput is one audio entry released by DequeueReady.
type AudioOutput struct {
	Data       []byte
	Timestamp  uint64
	SampleRate uint32
	Channels   uint8
}

type videoEntry struct {
	frame   capability.PixelBuffer
	ts      uint64
	release time.Time
}

type audioEntry struct {
	data       []byte
	ts         uint64
	sampleRate uint32
	channels   uint8
	release    time.Time
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithMaxEntries caps each queue at n entries; enqueuing past the cap
// drops the oldest entry. n <= 0 means unbounded, which is the default.
func WithMaxEntries(n int) Option {
	return func(b *Buffer) { b.maxEntries = n }
}

// withClock overrides the wall clock; used by tests only.
func withClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// Buffer is the delay line for one stream (both its video and audio
// queues). It is safe for concurrent use: writers (decoder/audio paths)
// and the single reader (output pump) may call it from different
// goroutines.
type Buffer struct {
	mu         sync.Mutex
	delay      time.Duration
	maxEntries int
	now        func() time.Time

	video []videoEntry
	audio []audioEntry
}

// New creates a Buffer with delay disabled (delayMs == 0); call Configure
// to enable it.
func New(opts ...Option) *Buffer {
	b := &Buffer{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configure sets the presentation delay. delayMs == 0 disables the
// buffer; callers should short-circuit around it entirely in that case
// rather than calling Enqueue*/DequeueReady.
func (b *Buffer) Configure(delayMs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = time.Duration(delayMs) * time.Millisecond
}

// Enabled reports whether a non-zero delay is configured.
func (b *Buffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay > 0
}

// EnqueueVideo deep-copies frame and appends it to the video queue,
// stamping its release time at now + the configured delay.
func (b *Buffer) EnqueueVideo(frame capability.PixelBuffer, timestamp uint64) {
	entry := videoEntry{frame: frame.Clone(), ts: timestamp}
	b.mu.Lock()
	entry.release = b.now().Add(b.delay)
	b.video = append(b.video, entry)
	if b.maxEntries > 0 && len(b.video) > b.maxEntries {
		b.video = b.video[len(b.video)-b.maxEntries:]
	}
	b.mu.Unlock()
}

// EnqueueAudio copies payload and appends it to the audio queue, stamping
// its release time identically to EnqueueVideo.
func (b *Buffer) EnqueueAudio(payload []byte, timestamp uint64, sampleRate uint32, channels uint8) {
	data := make([]byte, len(payload))
	copy(data, payload)
	entry := audioEntry{data: data, ts: timestamp, sampleRate: sampleRate, channels: channels}
	b.mu.Lock()
	entry.release = b.now().Add(b.delay)
	b.audio = append(b.audio, entry)
	if b.maxEntries > 0 && len(b.audio) > b.maxEntries {
		b.audio = b.audio[len(b.audio)-b.maxEntries:]
	}
	b.mu.Unlock()
}

// DequeueReady removes and returns, in enqueue (FIFO) order, every video
// and audio entry whose release time has passed.
func (b *Buffer) DequeueReady() ([]VideoOutput, []AudioOutput) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var videos []VideoOutput
	i := 0
	for ; i < len(b.video); i++ {
		if b.video[i].release.After(now) {
			break
		}
		videos = append(videos, VideoOutput{Frame: b.video[i].frame, Timestamp: b.video[i].ts})
	}
	b.video = b.video[i:]

	var audios []AudioOutput
	j := 0
	for ; j < len(b.audio); j++ {
		if b.audio[j].release.After(now) {
			break
		}
		audios = append(audios, AudioOutput{Data: b.audio[j].data, Timestamp: b.audio[j].ts, SampleRate: b.audio[j].sampleRate, Channels: b.audio[j].channels})
	}
	b.audio = b.audio[j:]

	return videos, audios
}

// Flush discards every queued entry without releasing it.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.video = nil
	b.audio = nil
	b.mu.Unlock()
}
