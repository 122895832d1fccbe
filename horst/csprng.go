package horst

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"

	"github.com/mvarga/horstbeacon/bcerr"
)

// CSPRNG is a deterministic, serializable random source: every key pair and
// every discrete-distribution sample a Manager draws comes from here, seeded
// once from a configured uint64 so a sender's entire key schedule can be
// replayed from persisted state.
//
// It is built on ChaCha20 rather than math/rand so the stream is
// cryptographically appropriate for secret-key material, while still being
// exactly reproducible from (seed, counter): the keystream is generated one
// 64-byte block at a time from a freshly seeded cipher, which trades a
// little throughput for a state that is trivial to snapshot and restore.
type CSPRNG struct {
	key     [32]byte
	nonce   [12]byte
	counter uint32
	offset  int
}

// NewCSPRNG seeds a stream from a single uint64, matching the seed-from-u64
// convention of the scheme this module implements.
func NewCSPRNG(seed uint64) *CSPRNG {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	return &CSPRNG{key: key}
}

// Read fills p with keystream bytes, advancing the internal block counter.
// It never returns an error and always fills p completely.
func (c *CSPRNG) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		block := c.currentBlock()
		avail := block[c.offset:]
		copied := copy(p[n:], avail)
		n += copied
		c.offset += copied
		if c.offset >= 64 {
			c.counter++
			c.offset = 0
		}
	}
	return n, nil
}

func (c *CSPRNG) currentBlock() []byte {
	cipher, err := chacha20.NewUnauthenticatedCipher(c.key[:], c.nonce[:])
	if err != nil {
		// Only possible if key/nonce lengths are wrong, which they never
		// are here: both are fixed-size arrays matching the API exactly.
		panic(bcerr.Wrap(bcerr.Fatal, err, "horst: chacha20 init"))
	}
	cipher.SetCounter(c.counter)
	block := make([]byte, 64)
	cipher.XORKeyStream(block, block)
	return block
}

// Float64 draws a uniform value in [0, 1), used by the weighted layer
// distribution to pick a sampling threshold.
func (c *CSPRNG) Float64() float64 {
	var buf [8]byte
	_, _ = c.Read(buf[:])
	// 53 bits of mantissa precision, same trick math/rand uses internally.
	v := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(v) / float64(uint64(1)<<53)
}

// State is the serializable snapshot of a CSPRNG's position in its stream.
type State struct {
	Seed    uint64
	Counter uint32
	Offset  uint8
}

// Snapshot captures the current stream position.
func (c *CSPRNG) Snapshot() State {
	return State{
		Seed:    binary.LittleEndian.Uint64(c.key[:8]),
		Counter: c.counter,
		Offset:  uint8(c.offset),
	}
}

// Restore rebuilds a CSPRNG from a previously captured State.
func Restore(s State) *CSPRNG {
	c := NewCSPRNG(s.Seed)
	c.counter = s.Counter
	c.offset = int(s.Offset)
	return c
}
