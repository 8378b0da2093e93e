// framing.go implements the length-prefixed, self-describing delta wire
// format of spec §3/§4.4: a magic prefix lets the receiver auto-detect
// whether the stream was compressed, so the choice (spec §9: "on for
// remote, off for local") is transparent on the receiving end.
package delta

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
)

var (
	magicPlain      = [4]byte{'s', 'y', 'd', '0'}
	magicCompressed = [4]byte{'s', 'y', 'd', 'z'}
)

const (
	opTagCopy    byte = 1
	opTagLiteral byte = 2
)

// Encode writes d to w, framed with the magic prefix. When compress is
// true, the op stream is wrapped in a zstd encoder (klauspost/compress,
// an azcopy indirect dependency and a direct rclone dependency).
func Encode(w io.Writer, d *Delta, compress bool) error {
	magic := magicPlain
	if compress {
		magic = magicCompressed
	}
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}

	var body io.Writer = w
	var zw *zstd.Encoder
	if compress {
		var err error
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return err
		}
		body = zw
	}

	bw := bufio.NewWriter(body)
	if err := binary.Write(bw, binary.BigEndian, d.SourceSize); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(d.Ops))); err != nil {
		return err
	}
	for _, op := range d.Ops {
		if err := writeOp(bw, op); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

func writeOp(w io.Writer, op Op) error {
	switch op.Kind {
	case OpCopy:
		if _, err := w.Write([]byte{opTagCopy}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, op.DestOffset); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, op.Length)
	case OpLiteral:
		if _, err := w.Write([]byte{opTagLiteral}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(op.Literal))); err != nil {
			return err
		}
		_, err := w.Write(op.Literal)
		return err
	}
	return nil
}

// Decode reads a Delta previously written by Encode, detecting
// compression from the magic prefix.
func Decode(r io.Reader) (*Delta, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}

	var body io.Reader = r
	if magic == magicCompressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		body = zr
	}

	br := bufio.NewReader(body)
	d := &Delta{}
	if err := binary.Read(br, binary.BigEndian, &d.SourceSize); err != nil {
		return nil, err
	}
	var count uint32
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	d.Ops = make([]Op, 0, count)
	for i := uint32(0); i < count; i++ {
		op, err := readOp(br)
		if err != nil {
			return nil, err
		}
		d.Ops = append(d.Ops, op)
	}
	return d, nil
}

func readOp(r io.Reader) (Op, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Op{}, err
	}
	switch tag[0] {
	case opTagCopy:
		var offset, length int64
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return Op{}, err
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return Op{}, err
		}
		return Op{Kind: OpCopy, DestOffset: offset, Length: length}, nil
	case opTagLiteral:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return Op{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Op{}, err
		}
		return Op{Kind: OpLiteral, Literal: buf}, nil
	default:
		return Op{}, io.ErrUnexpectedEOF
	}
}
