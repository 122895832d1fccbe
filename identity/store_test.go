package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id.bin")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sections := [][]byte{
		[]byte("rng-section"),
		[]byte("layers-section"),
		{},
		[]byte("distribution-section"),
	}
	if err := s.Save(sections); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected Load to report the file exists")
	}
	if len(got) != len(sections) {
		t.Fatalf("expected %d sections, got %d", len(sections), len(got))
	}
	for i := range sections {
		if !bytes.Equal(got[i], sections[i]) {
			t.Fatalf("section %d mismatch: got %q want %q", i, got[i], sections[i])
		}
	}
}

func TestLoadMissingFileReportsNotOk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.bin")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a file that has never been saved")
	}
}

func TestOpenTwiceFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id.bin")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer first.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected second Open on the same path to fail while locked")
	}
}

func TestLoadTreatsForeignMagicAsFreshIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id.bin")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := writeRaw(path, []byte("not-an-identity-file-at-all")); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected Load to report no prior identity for a file with the wrong header")
	}
}

func TestLoadTreatsTruncatedSectionAsFreshIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id.bin")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sections := [][]byte{[]byte("rng-section"), []byte("layers-section"), {}, []byte("distribution-section")}
	if err := s.Save(sections); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := writeRaw(path, raw[:len(raw)-3]); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}

	_, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected Load to report no prior identity for a truncated file")
	}
}
