// apply.go implements spec §4.4 step 5: the receiver reconstructs the new
// file into a staged destination by walking the op stream in order,
// either copying a range out of its local old file or writing a literal
// payload verbatim. The output is exactly the bytes the ops produce; the
// staged file starts empty, so no truncation step is needed.
// The incremental-digest-while-writing structure mirrors azcopy's
// common.ChunkedFileWriter, which folds an MD5 across sequentially
// arriving chunks and hands back the final hash on Flush; here the
// stream already arrives in order, so there is no out-of-order buffer,
// only the running digest.
package delta

import (
	"io"

	"github.com/cespare/xxhash/v2"
)

// OldFile is the minimal read interface the applier needs on the
// destination's pre-existing content.
type OldFile interface {
	io.ReaderAt
}

// Apply writes the reconstructed file described by d into dst, reading
// Copy ranges from old. It returns the fast digest of everything written,
// so the caller can detect mid-apply divergence (spec §4.4 edge case: "if
// the old file is modified during delta application...").
func Apply(dst io.Writer, old OldFile, d *Delta) (uint64, error) {
	h := xxhash.New()
	mw := io.MultiWriter(dst, h)

	var written int64
	buf := make([]byte, 256*1024)

	for _, op := range d.Ops {
		switch op.Kind {
		case OpCopy:
			remaining := op.Length
			offset := op.DestOffset
			for remaining > 0 {
				n := int64(len(buf))
				if remaining < n {
					n = remaining
				}
				read, err := old.ReadAt(buf[:n], offset)
				if read > 0 {
					if _, werr := mw.Write(buf[:read]); werr != nil {
						return 0, werr
					}
					written += int64(read)
					offset += int64(read)
					remaining -= int64(read)
				}
				if err != nil && err != io.EOF {
					return 0, err
				}
				if err == io.EOF && read == 0 {
					break
				}
			}
		case OpLiteral:
			if _, err := mw.Write(op.Literal); err != nil {
				return 0, err
			}
			written += int64(len(op.Literal))
		}
	}

	return h.Sum64(), nil
}
