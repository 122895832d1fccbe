package horst

import (
	"bytes"
	"testing"
)

func TestCSPRNGDeterministic(t *testing.T) {
	a := NewCSPRNG(1234)
	b := NewCSPRNG(1234)
	bufA := make([]byte, 200)
	bufB := make([]byte, 200)
	_, _ = a.Read(bufA)
	_, _ = b.Read(bufB)
	if !bytes.Equal(bufA, bufB) {
		t.Fatal("same seed produced different keystreams")
	}
}

func TestCSPRNGDifferentSeeds(t *testing.T) {
	a := NewCSPRNG(1)
	b := NewCSPRNG(2)
	bufA := make([]byte, 64)
	bufB := make([]byte, 64)
	_, _ = a.Read(bufA)
	_, _ = b.Read(bufB)
	if bytes.Equal(bufA, bufB) {
		t.Fatal("different seeds produced identical keystreams")
	}
}

func TestCSPRNGContinuationAcrossReads(t *testing.T) {
	whole := NewCSPRNG(7)
	wholeBuf := make([]byte, 128)
	_, _ = whole.Read(wholeBuf)

	split := NewCSPRNG(7)
	first := make([]byte, 37)
	second := make([]byte, 91)
	_, _ = split.Read(first)
	_, _ = split.Read(second)

	if !bytes.Equal(wholeBuf[:37], first) || !bytes.Equal(wholeBuf[37:], second) {
		t.Fatal("splitting reads changed the resulting keystream")
	}
}

func TestCSPRNGSnapshotRestore(t *testing.T) {
	a := NewCSPRNG(55)
	discard := make([]byte, 100)
	_, _ = a.Read(discard)
	snap := a.Snapshot()

	tailA := make([]byte, 40)
	_, _ = a.Read(tailA)

	b := Restore(snap)
	tailB := make([]byte, 40)
	_, _ = b.Read(tailB)

	if !bytes.Equal(tailA, tailB) {
		t.Fatal("restored CSPRNG diverged from the original stream")
	}
}

func TestFloat64InRange(t *testing.T) {
	rng := NewCSPRNG(3)
	for i := 0; i < 1000; i++ {
		v := rng.Float64()
		if v < 0 || v >= 1 {
			t.Fatalf("Float64 out of range: %f", v)
		}
	}
}
