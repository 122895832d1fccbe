// Package datagram fragments a signed block into fixed-size UDP datagrams
// and reassembles them on the receiving end, tolerating reordering and
// dropped fragments (everything except the final fragment is exact; the
// final fragment is zero-padded and its real length recorded explicitly so
// reassembly is never ambiguous about trailing zero bytes).
package datagram

import (
	"encoding/binary"

	"github.com/mvarga/horstbeacon/bcerr"
)

// HeaderSize is the fixed byte length of a fragment header.
const HeaderSize = 20

// Header identifies which block a fragment belongs to, its position, the
// total fragment count, and (on the final fragment only) how many of its
// payload bytes are real data rather than zero padding.
//
// FinalLen is the field the original fragment header lacked: without it, a
// payload that happens to end in zero bytes is indistinguishable from
// padding once reassembled, silently truncating the block.
type Header struct {
	BlockHash uint64
	Index     uint32
	Count     uint32
	FinalLen  uint32
}

func (h Header) encode(into []byte) {
	binary.LittleEndian.PutUint64(into[0:8], h.BlockHash)
	binary.LittleEndian.PutUint32(into[8:12], h.Index)
	binary.LittleEndian.PutUint32(into[12:16], h.Count)
	binary.LittleEndian.PutUint32(into[16:20], h.FinalLen)
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, bcerr.New(bcerr.Malformed, "datagram: fragment shorter than header (%d bytes)", len(buf))
	}
	return Header{
		BlockHash: binary.LittleEndian.Uint64(buf[0:8]),
		Index:     binary.LittleEndian.Uint32(buf[8:12]),
		Count:     binary.LittleEndian.Uint32(buf[12:16]),
		FinalLen:  binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}
