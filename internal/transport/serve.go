package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/nijaru/sy/internal/delta"
)

// Serve terminates the Remote wire protocol against local, the
// destination-side half of the channel a dialed Remote speaks to. It
// loops reading frames until conn is closed or a frame can't be read,
// replying opAck on success and opErr (carrying the error text) on
// failure, and never aborting the loop on a per-request error. This is
// what makes Remote a real, round-trippable protocol rather than a
// client-only stub: internal/transport/remote_test.go drives a Remote
// against a Serve goroutine over an io.Pipe.
func Serve(ctx context.Context, conn io.ReadWriteCloser, local *Local) error {
	s := &server{
		conn:   conn,
		r:      bufio.NewReader(conn),
		local:  local,
		writes: make(map[string]WriteHandle),
		reads:  make(map[string]io.ReadSeekCloser),
	}
	defer s.closeAll()

	for {
		op, payload, err := readFrame(s.r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := s.handle(ctx, op, payload); err != nil {
			_ = writeFrame(s.conn, opErr, []byte(err.Error()))
		}
	}
}

type server struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	r      *bufio.Reader
	local  *Local
	writes map[string]WriteHandle
	reads  map[string]io.ReadSeekCloser
}

func (s *server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.writes {
		h.Discard()
	}
	for _, rc := range s.reads {
		rc.Close()
	}
}

func (s *server) ack(payload []byte) error { return writeFrame(s.conn, opAck, payload) }

func splitAtNUL(payload []byte) (head, tail []byte, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return nil, nil, false
	}
	return payload[:i], payload[i+1:], true
}

func (s *server) handle(ctx context.Context, op remoteOp, payload []byte) error {
	switch op {
	case opCreateDir:
		relPath, rest, ok := splitAtNUL(payload)
		if !ok || len(rest) < 4 {
			return errors.New("malformed create-dir frame")
		}
		mode := binary.BigEndian.Uint32(rest[:4])
		if err := s.local.CreateDir(ctx, string(relPath), mode); err != nil {
			return err
		}
		return s.ack(nil)

	case opOpenWrite:
		relPath := string(payload)
		h, err := s.local.OpenWrite(ctx, relPath)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.writes[relPath] = h
		s.mu.Unlock()
		return s.ack(nil)

	case opWriteChunk:
		relPath, rest, ok := splitAtNUL(payload)
		if !ok || len(rest) < 8 {
			return errors.New("malformed write-chunk frame")
		}
		off := int64(binary.BigEndian.Uint64(rest[:8]))
		data := rest[8:]
		s.mu.Lock()
		h, found := s.writes[string(relPath)]
		s.mu.Unlock()
		if !found {
			return errors.Errorf("write-chunk: no open handle for %s", relPath)
		}
		if _, err := h.WriteAt(data, off); err != nil {
			return err
		}
		return s.ack(nil)

	case opCommit:
		relPath := string(payload)
		s.mu.Lock()
		h, found := s.writes[relPath]
		delete(s.writes, relPath)
		s.mu.Unlock()
		if !found {
			return errors.Errorf("commit: no open handle for %s", relPath)
		}
		if err := h.Commit(ctx); err != nil {
			return err
		}
		return s.ack(nil)

	case opDiscard:
		relPath := string(payload)
		s.mu.Lock()
		h, found := s.writes[relPath]
		delete(s.writes, relPath)
		s.mu.Unlock()
		if found {
			h.Discard()
		}
		return s.ack(nil)

	case opOpenRead:
		relPath := string(payload)
		rc, err := s.local.OpenRead(ctx, relPath)
		if err != nil {
			return err
		}
		size, err := rc.Seek(0, io.SeekEnd)
		if err != nil {
			rc.Close()
			return err
		}
		if _, err := rc.Seek(0, io.SeekStart); err != nil {
			rc.Close()
			return err
		}
		s.mu.Lock()
		s.reads[relPath] = rc
		s.mu.Unlock()
		var resp [8]byte
		binary.BigEndian.PutUint64(resp[:], uint64(size))
		return s.ack(resp[:])

	case opReadChunk:
		relPath, rest, ok := splitAtNUL(payload)
		if !ok || len(rest) < 16 {
			return errors.New("malformed read-chunk frame")
		}
		off := int64(binary.BigEndian.Uint64(rest[:8]))
		length := int64(binary.BigEndian.Uint64(rest[8:16]))
		s.mu.Lock()
		rc, found := s.reads[string(relPath)]
		s.mu.Unlock()
		if !found {
			return errors.Errorf("read-chunk: no open handle for %s", relPath)
		}
		ra, ok := rc.(io.ReaderAt)
		if !ok {
			return errors.Errorf("read-chunk: %s not randomly readable", relPath)
		}
		buf := make([]byte, length)
		n, err := ra.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return err
		}
		return s.ack(buf[:n])

	case opSymlink:
		relPath, target, ok := splitAtNUL(payload)
		if !ok {
			return errors.New("malformed symlink frame")
		}
		if err := s.local.Symlink(ctx, string(relPath), string(target)); err != nil {
			return err
		}
		return s.ack(nil)

	case opHardlink:
		relPath, primary, ok := splitAtNUL(payload)
		if !ok {
			return errors.New("malformed hardlink frame")
		}
		if err := s.local.Hardlink(ctx, string(relPath), string(primary)); err != nil {
			return err
		}
		return s.ack(nil)

	case opRemove:
		if err := s.local.Remove(ctx, string(payload)); err != nil {
			return err
		}
		return s.ack(nil)

	case opStat:
		_, ok, err := s.local.Stat(ctx, string(payload))
		if err != nil {
			return err
		}
		if !ok {
			return s.ack(nil)
		}
		return s.ack([]byte{1})

	case opApplyMetadata:
		// Remote.ApplyMetadata sends only the path, no attribute values;
		// nothing to apply here.
		return s.ack(nil)

	case opApplyDelta:
		relPath, encoded, ok := splitAtNUL(payload)
		if !ok {
			return errors.New("malformed apply-delta frame")
		}
		d, err := delta.Decode(bytes.NewReader(encoded))
		if err != nil {
			return errors.Wrap(err, "decode remote delta")
		}
		s.mu.Lock()
		h, found := s.writes[string(relPath)]
		s.mu.Unlock()
		if !found {
			return errors.Errorf("apply-delta: no open handle for %s", relPath)
		}

		var old delta.OldFile = emptyOldFile{}
		if oldReader, err := s.local.OpenRead(ctx, string(relPath)); err == nil {
			defer oldReader.Close()
			if ra, ok := oldReader.(io.ReaderAt); ok {
				old = ra
			}
		}

		sw := &seqWriter{h: h}
		digest, err := delta.Apply(sw, old, d)
		if err != nil {
			return err
		}
		var resp [16]byte
		binary.BigEndian.PutUint64(resp[:8], uint64(sw.offset))
		binary.BigEndian.PutUint64(resp[8:], digest)
		return s.ack(resp[:])

	default:
		return errors.Errorf("unknown remote op %d", op)
	}
}

// seqWriter adapts a WriteHandle (offset-addressed) to io.Writer for
// delta.Apply, which writes strictly in increasing order.
type seqWriter struct {
	h      WriteHandle
	offset int64
}

func (s *seqWriter) Write(p []byte) (int, error) {
	n, err := s.h.WriteAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

// emptyOldFile backs delta.Apply when the destination has no existing
// content yet: every Copy op reads past EOF immediately, which can only
// happen if Generate produced a Delta inconsistent with an empty old
// file (it shouldn't, since BuildSignatureTable would have reported
// zero blocks and Generate would emit Literal ops only).
type emptyOldFile struct{}

func (emptyOldFile) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
