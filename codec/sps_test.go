package codec

import "testing"

func TestParseSPSRoundTripsMinimalSPS(t *testing.T) {
	cases := []struct{ w, h int }{
		{640, 480},
		{1920, 1088},
		{320, 240},
	}
	for _, c := range cases {
		sps := BuildMinimalSPS(c.w, c.h)
		info, err := ParseSPS(sps)
		if err != nil {
			t.Fatalf("%dx%d: ParseSPS: %v", c.w, c.h, err)
		}
		if info.Width != c.w || info.Height != c.h {
			t.Fatalf("%dx%d: got %dx%d", c.w, c.h, info.Width, info.Height)
		}
		if info.ProfileIDC != 66 {
			t.Fatalf("profile = %d, want 66 (baseline)", info.ProfileIDC)
		}
	}
}

func TestParseSPSTooShort(t *testing.T) {
	if _, err := ParseSPS([]byte{0x67}); err == nil {
		t.Fatal("expected error for too-short SPS")
	}
}

func TestCodecString(t *testing.T) {
	info := SPSInfo{ProfileIDC: 0x42, ConstraintFlags: 0x00, LevelIDC: 0x1E}
	if got, want := info.CodecString(), "avc1.42001E"; got != want {
		t.Fatalf("CodecString() = %q, want %q", got, want)
	}
}

func TestRemoveInsertEmulationPreventionRoundTrip(t *testing.T) {
	rbsp := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x00, 0x03}
	ebsp := insertEmulationPrevention(rbsp)
	got := removeEmulationPrevention(ebsp)
	if len(got) != len(rbsp) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(rbsp))
	}
	for i := range rbsp {
		if got[i] != rbsp[i] {
			t.Fatalf("byte %d: got %x, want %x", i, got[i], rbsp[i])
		}
	}
}
