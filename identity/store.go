// Package identity persists sender and receiver state to a single,
// lockfile-guarded file on disk: a magic-numbered header followed by a
// sequence of length-prefixed opaque sections, written via the
// write-tempfile/fsync/rename/fsync-parent-dir sequence so a crash mid-save
// never leaves a torn file in place of a good one.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/nightlyone/lockfile"

	"github.com/mvarga/horstbeacon/bcerr"
)

// magicHex identifies a horstbeacon identity file so Load can refuse to
// interpret an unrelated file as persisted state.
const magicHex = "686f726265613031"

// Store is a single identity file, exclusively locked for the lifetime of
// the process that opened it.
type Store struct {
	path  string
	flock lockfile.Lockfile
}

// Open acquires an exclusive lock on path+".lock" and returns a Store ready
// for Load/Save. The lock is released by Close.
func Open(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "identity: resolving path %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "identity: creating directory for %s", abs)
	}
	flock, err := lockfile.New(abs + ".lock")
	if err != nil {
		return nil, bcerr.Wrap(bcerr.Fatal, err, "identity: creating lockfile for %s", abs)
	}
	// A lock already held by this same process is refused too, so a second
	// Store on one path fails within a process just as across processes.
	if owner, ownerErr := flock.GetOwner(); ownerErr == nil && owner.Pid == os.Getpid() {
		return nil, bcerr.New(bcerr.Recoverable, "identity: %s is already locked by this process", abs)
	}
	if err := flock.TryLock(); err != nil {
		if _, temporary := err.(interface{ Temporary() bool }); temporary {
			return nil, bcerr.Wrap(bcerr.Recoverable, err, "identity: %s is locked by another process", abs)
		}
		return nil, bcerr.Wrap(bcerr.Fatal, err, "identity: locking %s", abs)
	}
	return &Store{path: abs, flock: flock}, nil
}

// Close releases the store's lock.
func (s *Store) Close() error {
	if err := s.flock.Unlock(); err != nil {
		return bcerr.Wrap(bcerr.Recoverable, err, "identity: releasing lock on %s", s.path)
	}
	return nil
}

// Load reads every section back, in the order Save wrote them. ok is false
// either because the file does not exist yet, or because its header or
// sections are malformed or truncated: either way this is a fresh identity,
// not an error the caller needs to act on.
func (s *Store) Load() (sections [][]byte, ok bool, err error) {
	f, openErr := os.Open(s.path)
	if os.IsNotExist(openErr) {
		return nil, false, nil
	}
	if openErr != nil {
		return nil, false, bcerr.Wrap(bcerr.Fatal, openErr, "identity: opening %s", s.path)
	}
	defer f.Close()

	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		bcerr.Logf("identity: %s is too short to hold a header, starting fresh", s.path)
		return nil, false, nil
	}
	if hex.EncodeToString(magic[:]) != magicHex {
		bcerr.Logf("identity: %s has an unrecognized header, starting fresh", s.path)
		return nil, false, nil
	}

	var count uint32
	if err := binary.Read(f, binary.BigEndian, &count); err != nil {
		bcerr.Logf("identity: %s is truncated reading section count, starting fresh", s.path)
		return nil, false, nil
	}

	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var length uint32
		if err := binary.Read(f, binary.BigEndian, &length); err != nil {
			bcerr.Logf("identity: %s is truncated reading section %d length, starting fresh", s.path, i)
			return nil, false, nil
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(f, buf); err != nil {
			bcerr.Logf("identity: %s is truncated reading section %d body, starting fresh", s.path, i)
			return nil, false, nil
		}
		out = append(out, buf)
	}
	return out, true, nil
}

// Save atomically replaces the identity file's contents with the given
// sections.
func (s *Store) Save(sections [][]byte) (err error) {
	tmpPath := s.path + ".tmp"
	f, createErr := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if createErr != nil {
		return bcerr.Wrap(bcerr.Fatal, createErr, "identity: creating temp file %s", tmpPath)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	var magic [8]byte
	decoded, _ := hex.DecodeString(magicHex)
	copy(magic[:], decoded)
	if _, err = f.Write(magic[:]); err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "identity: writing magic header")
	}
	if err = binary.Write(f, binary.BigEndian, uint32(len(sections))); err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "identity: writing section count")
	}
	for i, sec := range sections {
		if err = binary.Write(f, binary.BigEndian, uint32(len(sec))); err != nil {
			return bcerr.Wrap(bcerr.Fatal, err, "identity: writing section %d length", i)
		}
		if _, err = f.Write(sec); err != nil {
			return bcerr.Wrap(bcerr.Fatal, err, "identity: writing section %d body", i)
		}
	}

	if err = f.Sync(); err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "identity: syncing temp file")
	}
	if err = f.Close(); err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "identity: closing temp file")
	}
	if err = os.Rename(tmpPath, s.path); err != nil {
		return bcerr.Wrap(bcerr.Fatal, err, "identity: replacing %s", s.path)
	}
	if syncErr := syncParentDir(s.path); syncErr != nil {
		// We cannot be sure the rename is durable, but the file itself is
		// consistent; surface this as recoverable rather than aborting.
		return bcerr.Wrap(bcerr.Recoverable, syncErr, "identity: syncing parent directory of %s", s.path)
	}
	return nil
}

func syncParentDir(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
