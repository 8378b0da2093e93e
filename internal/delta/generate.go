// generate.go implements the cross-host regime of spec §4.4: the side
// holding the *new* file slides a rolling checksum byte-by-byte against a
// signature table built by the side holding the *old* file, emitting a
// Copy/Literal op stream without ever buffering the whole file.
package delta

import (
	"bufio"
	"io"
)

// softLiteralCap bounds how much unmatched data accumulates before being
// flushed as a Literal op, per spec §4.4 step 2.
const softLiteralCap = 64 * 1024

// Generate reads newFile (the side with the up-to-date content) and
// produces the Delta that reconstructs it from sig's old-file blocks.
func Generate(newFile io.Reader, sig *SignatureTable) (*Delta, error) {
	br := bufio.NewReaderSize(newFile, sig.BlockSize*2)
	d := &Delta{}

	window := make([]byte, 0, sig.BlockSize)
	literal := make([]byte, 0, softLiteralCap)
	var pos int64

	flushLiteral := func() {
		if len(literal) == 0 {
			return
		}
		buf := make([]byte, len(literal))
		copy(buf, literal)
		d.Ops = append(d.Ops, Op{Kind: OpLiteral, Literal: buf})
		literal = literal[:0]
	}

	fillWindow := func() error {
		for len(window) < sig.BlockSize {
			b, err := br.ReadByte()
			if err != nil {
				return err
			}
			window = append(window, b)
		}
		return nil
	}

	if err := fillWindow(); err != nil && err != io.EOF {
		return nil, err
	}

	var roll *RollingChecksum
	if len(window) == sig.BlockSize {
		roll = NewRollingChecksum(window)
	}

	for len(window) == sig.BlockSize {
		weak := roll.Sum()
		if match, ok := sig.Lookup(weak, window); ok {
			flushLiteral()
			d.Ops = append(d.Ops, Op{
				Kind:       OpCopy,
				DestOffset: int64(match.Index) * int64(sig.BlockSize),
				Length:     int64(match.Size),
			})
			pos += int64(len(window))
			window = window[:0]
			if err := fillWindow(); err != nil && err != io.EOF {
				return nil, err
			}
			if len(window) == sig.BlockSize {
				roll = NewRollingChecksum(window)
			}
			continue
		}

		// no match at this offset: slide by one byte
		literal = append(literal, window[0])
		pos++
		if len(literal) >= softLiteralCap {
			flushLiteral()
		}

		next, err := br.ReadByte()
		if err == io.EOF {
			window = window[1:]
			break
		}
		if err != nil {
			return nil, err
		}
		roll.Roll(window[0], next)
		window = append(window[1:], next)
	}

	// residual window (< B, possibly down to 0 bytes) is a partial-block
	// match attempt per spec §4.4 step 3.
	if len(window) > 0 {
		if match, ok := sig.Lookup(RollsumOf(window), window); ok {
			flushLiteral()
			d.Ops = append(d.Ops, Op{
				Kind:       OpCopy,
				DestOffset: int64(match.Index) * int64(sig.BlockSize),
				Length:     int64(match.Size),
			})
		} else {
			literal = append(literal, window...)
		}
	}
	flushLiteral()

	return d, nil
}
