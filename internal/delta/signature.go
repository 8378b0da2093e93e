package delta

import (
	"bufio"
	"io"

	"github.com/nijaru/sy/internal/integrity"
)

// BlockSig is one entry of a signature table: the block's position
// (implied by Index), its weak rolling checksum and its strong digest.
type BlockSig struct {
	Index  int
	Weak   uint32
	Strong integrity.FastDigest
	Size   int
}

// SignatureTable maps weak checksum -> candidate blocks, resolved by
// strong compare on collision, per spec §3.
type SignatureTable struct {
	BlockSize int
	FileSize  int64
	byWeak    map[uint32][]BlockSig
}

// BuildSignatureTable streams r (the "old" file, i.e. the side that holds
// the pre-existing content) in fixed-size blocks, computing a weak and
// strong digest per block without ever loading the whole file into
// memory (spec §4.4: "O(1) additional memory per file regardless of
// size").
func BuildSignatureTable(r io.Reader, fileSize int64, blockSize int) (*SignatureTable, error) {
	st := &SignatureTable{BlockSize: blockSize, FileSize: fileSize, byWeak: make(map[uint32][]BlockSig)}
	br := bufio.NewReaderSize(r, blockSize)
	buf := make([]byte, blockSize)
	index := 0
	for {
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			block := buf[:n]
			sig := BlockSig{
				Index:  index,
				Weak:   RollsumOf(block),
				Strong: integrity.FastSumBytes(block),
				Size:   n,
			}
			st.byWeak[sig.Weak] = append(st.byWeak[sig.Weak], sig)
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Lookup resolves a weak checksum + the actual window bytes (for strong
// compare on weak hit) to a matching block, or ok=false.
func (st *SignatureTable) Lookup(weak uint32, window []byte) (BlockSig, bool) {
	candidates, present := st.byWeak[weak]
	if !present {
		return BlockSig{}, false
	}
	strong := integrity.FastSumBytes(window)
	for _, c := range candidates {
		if c.Size == len(window) && c.Strong == strong {
			return c, true
		}
	}
	// strong-hash collisions are treated as non-matches, per spec §4.4 edge cases
	return BlockSig{}, false
}
