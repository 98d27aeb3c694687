package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/ndibridge/capability"
)

func TestFilterExcludedDefaultsCaseInsensitive(t *testing.T) {
	sources := []capability.SourceDescriptor{{Name: "My Bridge Output"}, {Name: "Cam 1"}, {Name: "studio BRIDGE"}}
	got := filterExcluded(sources, defaultExclude)
	if len(got) != 1 || got[0].Name != "Cam 1" {
		t.Fatalf("got %v, want only Cam 1 kept", got)
	}
}

func TestFilterExcludedEmptyPatternIsNoop(t *testing.T) {
	sources := []capability.SourceDescriptor{{Name: "Cam 1"}}
	got := filterExcluded(sources, []string{""})
	if len(got) != 1 {
		t.Fatalf("got %v, want source kept", got)
	}
}

// Scenario S4: exclude "Loop"; discovery returns ["Loop A", "Cam 1"]; auto
// mode selects Cam 1.
func TestSelectSourceAutoAfterExclusion(t *testing.T) {
	s := &Sender{cfg: SenderConfig{Auto: true}}
	candidates := filterExcluded([]capability.SourceDescriptor{{Name: "Loop A"}, {Name: "Cam 1"}}, []string{"Loop"})
	got, err := s.selectSource(candidates)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Cam 1" {
		t.Fatalf("selected %q, want Cam 1", got.Name)
	}
}

func TestSelectSourceByName(t *testing.T) {
	s := &Sender{cfg: SenderConfig{SourceName: "cam"}}
	candidates := []capability.SourceDescriptor{{Name: "Loop A"}, {Name: "Studio Cam 1"}}
	got, err := s.selectSource(candidates)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Studio Cam 1" {
		t.Fatalf("selected %q, want Studio Cam 1", got.Name)
	}
}

func TestSelectSourceByNameNoMatch(t *testing.T) {
	s := &Sender{cfg: SenderConfig{SourceName: "missing"}}
	if _, err := s.selectSource([]capability.SourceDescriptor{{Name: "Cam 1"}}); err == nil {
		t.Fatal("expected error for no matching source")
	}
}

// fakeCapture simulates one disconnect-then-succeed cycle so the
// reconnect loop can be exercised; the retry still waits the real
// 2-second reconnectDelay.
type fakeCapture struct {
	mu           sync.Mutex
	connects     int
	failFirst    bool
	cb           capability.Callbacks
	capturing    chan struct{}
}

func (f *fakeCapture) Initialize() error { return nil }

func (f *fakeCapture) Discover(ctx context.Context, timeout time.Duration) ([]capability.SourceDescriptor, error) {
	return []capability.SourceDescriptor{{Name: "Cam 1"}}, nil
}

func (f *fakeCapture) Connect(source capability.SourceDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeCapture) StartCapture(cb capability.Callbacks) error {
	f.mu.Lock()
	f.cb = cb
	first := f.connects == 1
	f.mu.Unlock()

	if first && f.failFirst {
		go cb.OnDisconnect(errors.New("simulated disconnect"))
	} else if f.capturing != nil {
		close(f.capturing)
	}
	return nil
}

func (f *fakeCapture) Stop() error { return nil }

type fakeRawEnc struct{}

func (fakeRawEnc) Configure(capability.EncoderParams) error { return nil }
func (fakeRawEnc) Encode(frame capability.PixelBuffer, ts uint64, key bool) (capability.RawEncodedFrame, error) {
	return capability.RawEncodedFrame{Payload: []byte{0, 0, 0, 1, 0x65}, IsKeyframe: key, Timestamp: ts}, nil
}
func (fakeRawEnc) ParameterSets() ([]byte, []byte, bool) { return nil, nil, false }
func (fakeRawEnc) Flush() ([]capability.RawEncodedFrame, error) { return nil, nil }
func (fakeRawEnc) Close() error { return nil }

func TestSenderReconnectsAfterDisconnect(t *testing.T) {
	capturing := make(chan struct{})
	capture := &fakeCapture{failFirst: true, capturing: capturing}

	cfg := SenderConfig{Target: "127.0.0.1:0"}
	s := NewSender(capture, fakeRawEnc{}, cfg, nil)
	s.SetPrompt(func(c []capability.SourceDescriptor) (capability.SourceDescriptor, error) {
		return c[0], nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-capturing:
	case <-time.After(5 * time.Second):
		t.Fatal("capture never restarted after simulated disconnect")
	}

	capture.mu.Lock()
	connects := capture.connects
	capture.mu.Unlock()
	if connects < 2 {
		t.Fatalf("expected at least 2 connect attempts, got %d", connects)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}
