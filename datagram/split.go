package datagram

import (
	"github.com/cespare/xxhash"

	"github.com/mvarga/horstbeacon/bcerr"
)

// Split breaks data into fragments sized to fit dgramSize, each prefixed
// with a Header. The final fragment is zero-padded to the fragment payload
// size with its real length recorded in FinalLen.
func Split(data []byte, dgramSize int) ([][]byte, error) {
	fragPayload := dgramSize - HeaderSize
	if fragPayload <= 0 {
		return nil, bcerr.New(bcerr.Fatal, "datagram: dgram size %d too small for a %d-byte header", dgramSize, HeaderSize)
	}
	if len(data) == 0 {
		return nil, bcerr.New(bcerr.Fatal, "datagram: cannot split an empty block")
	}

	count := (len(data) + fragPayload - 1) / fragPayload
	hash := xxhash.Sum64(data)

	frags := make([][]byte, count)
	for i := 0; i < count; i++ {
		start := i * fragPayload
		end := start + fragPayload
		var finalLen uint32
		dgram := make([]byte, dgramSize)
		if end >= len(data) {
			end = len(data)
			finalLen = uint32(end - start)
		} else {
			finalLen = uint32(fragPayload)
		}
		copy(dgram[HeaderSize:], data[start:end])

		h := Header{BlockHash: hash, Index: uint32(i), Count: uint32(count), FinalLen: finalLen}
		h.encode(dgram)
		frags[i] = dgram
	}
	return frags, nil
}
