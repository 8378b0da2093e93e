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
	"github.com/nijaru/sy/internal/entry"
)

// remoteOp tags a length-prefixed frame on the wire. The channel
// establishment itself (SSH, TLS, whatever) is an external collaborator
// per spec §1; Remote only needs an io.ReadWriteCloser once connected.
type remoteOp byte

const (
	opCreateDir remoteOp = iota
	opOpenWrite
	opWriteChunk
	opCommit
	opDiscard
	opOpenRead
	opReadChunk
	opSymlink
	opHardlink
	opRemove
	opStat
	opApplyMetadata
	opApplyDelta
	opAck
	opErr
)

// writeFrame and readFrame are the framing primitives both Remote (the
// client/driver side) and Serve (the server/destination side) use, each
// a 5-byte header (1-byte op, 4-byte big-endian payload length)
// followed by the payload.
func writeFrame(w io.Writer, op remoteOp, payload []byte) error {
	var header [5]byte
	header[0] = byte(op)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r *bufio.Reader) (remoteOp, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return remoteOp(header[0]), payload, nil
}

// Remote realizes Transport over any already-established duplex
// channel, framing every request/response as described above. This
// mirrors the length-prefixed framing azcopy's job-part-plan files use
// on disk, applied here to a live stream instead. The destination-side
// terminus is Serve, in serve.go.
type Remote struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	r    *bufio.Reader
}

func NewRemote(conn io.ReadWriteCloser) *Remote {
	return &Remote{conn: conn, r: bufio.NewReader(conn)}
}

func (r *Remote) roundTrip(ctx context.Context, op remoteOp, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := writeFrame(r.conn, op, payload); err != nil {
		return nil, errors.Wrap(err, "remote transport write")
	}
	gotOp, resp, err := readFrame(r.r)
	if err != nil {
		return nil, errors.Wrap(err, "remote transport read")
	}
	if gotOp == opErr {
		return nil, errors.New(string(resp))
	}
	return resp, nil
}

func (r *Remote) CreateDir(ctx context.Context, relPath string, mode uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], mode)
	_, err := r.roundTrip(ctx, opCreateDir, append([]byte(relPath+"\x00"), payload[:]...))
	return err
}

func (r *Remote) OpenWrite(ctx context.Context, relPath string) (WriteHandle, error) {
	if _, err := r.roundTrip(ctx, opOpenWrite, []byte(relPath)); err != nil {
		return nil, err
	}
	return &remoteWriteHandle{remote: r, relPath: relPath}, nil
}

// OpenRead opens relPath on the remote side via opOpenRead (which
// reports the file's size) and returns a handle that fetches content
// on demand via opReadChunk round trips, so BuildSignatureTable and
// Generate can read a remote destination's current content without the
// driver needing its own local copy.
func (r *Remote) OpenRead(ctx context.Context, relPath string) (io.ReadSeekCloser, error) {
	resp, err := r.roundTrip(ctx, opOpenRead, []byte(relPath))
	if err != nil {
		return nil, err
	}
	if len(resp) != 8 {
		return nil, errors.New("remote: malformed opOpenRead response")
	}
	size := int64(binary.BigEndian.Uint64(resp))
	return &remoteReader{remote: r, relPath: relPath, size: size}, nil
}

func (r *Remote) Symlink(ctx context.Context, relPath, target string) error {
	_, err := r.roundTrip(ctx, opSymlink, []byte(relPath+"\x00"+target))
	return err
}

func (r *Remote) Hardlink(ctx context.Context, relPath, primaryRelPath string) error {
	_, err := r.roundTrip(ctx, opHardlink, []byte(relPath+"\x00"+primaryRelPath))
	return err
}

func (r *Remote) Remove(ctx context.Context, relPath string) error {
	_, err := r.roundTrip(ctx, opRemove, []byte(relPath))
	return err
}

func (r *Remote) Stat(ctx context.Context, relPath string) (entry.Entry, bool, error) {
	resp, err := r.roundTrip(ctx, opStat, []byte(relPath))
	if err != nil {
		return entry.Entry{}, false, err
	}
	if len(resp) == 0 {
		return entry.Entry{}, false, nil
	}
	// Wire encoding of entry.Entry is left to the eventual codec layer
	// (gob/msgpack, per the concrete channel chosen); this stub reports
	// presence only, sufficient for the dual dispatcher's routing needs.
	return entry.Entry{RelativePath: relPath}, true, nil
}

func (r *Remote) ApplyMetadata(ctx context.Context, relPath string, want entry.Entry, opts MetadataOptions) error {
	_, err := r.roundTrip(ctx, opApplyMetadata, []byte(relPath))
	return err
}

type remoteWriteHandle struct {
	remote  *Remote
	relPath string
}

func (h *remoteWriteHandle) WriteAt(p []byte, off int64) (int, error) {
	var offBuf [8]byte
	binary.BigEndian.PutUint64(offBuf[:], uint64(off))
	payload := make([]byte, 0, len(h.relPath)+1+8+len(p))
	payload = append(payload, h.relPath...)
	payload = append(payload, 0)
	payload = append(payload, offBuf[:]...)
	payload = append(payload, p...)
	if _, err := h.remote.roundTrip(context.Background(), opWriteChunk, payload); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ApplyDelta satisfies transport.DeltaApplier: it ships d's op stream,
// zstd-compressed per spec §9's "on for remote" resolution, and lets
// the remote side apply it against its own copy of the old file, rather
// than reconstructing the new file locally and re-streaming every byte
// (including Copy-range bytes the remote already holds) over WriteAt.
func (h *remoteWriteHandle) ApplyDelta(ctx context.Context, d *delta.Delta) (int64, uint64, error) {
	var buf bytes.Buffer
	if err := delta.Encode(&buf, d, true); err != nil {
		return 0, 0, errors.Wrap(err, "encode delta for remote apply")
	}
	payload := make([]byte, 0, len(h.relPath)+1+buf.Len())
	payload = append(payload, h.relPath...)
	payload = append(payload, 0)
	payload = append(payload, buf.Bytes()...)

	resp, err := h.remote.roundTrip(ctx, opApplyDelta, payload)
	if err != nil {
		return 0, 0, err
	}
	if len(resp) != 16 {
		return 0, 0, errors.New("remote: malformed opApplyDelta response")
	}
	written := int64(binary.BigEndian.Uint64(resp[:8]))
	digest := binary.BigEndian.Uint64(resp[8:])
	return written, digest, nil
}

// TryCloneFrom never applies across a remote channel; reflink cloning
// only makes sense between files sharing a filesystem.
func (h *remoteWriteHandle) TryCloneFrom(src string) (bool, error) { return false, nil }

func (h *remoteWriteHandle) Close() error { return nil }

func (h *remoteWriteHandle) Commit(ctx context.Context) error {
	_, err := h.remote.roundTrip(ctx, opCommit, []byte(h.relPath))
	return err
}

func (h *remoteWriteHandle) Discard() {
	_, _ = h.remote.roundTrip(context.Background(), opDiscard, []byte(h.relPath))
}

// remoteReader implements io.ReadSeekCloser by fetching chunks from the
// remote side on demand via opReadChunk, keyed by an explicit offset so
// concurrent readers of different files (and BuildSignatureTable's own
// sequential walk) never need server-side cursor state.
type remoteReader struct {
	remote  *Remote
	relPath string
	size    int64
	offset  int64
}

func (rr *remoteReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= rr.size {
		return 0, io.EOF
	}
	n := len(p)
	if remaining := rr.size - off; int64(n) > remaining {
		n = int(remaining)
	}
	var req [16]byte
	binary.BigEndian.PutUint64(req[:8], uint64(off))
	binary.BigEndian.PutUint64(req[8:], uint64(n))
	payload := append([]byte(rr.relPath+"\x00"), req[:]...)
	resp, err := rr.remote.roundTrip(context.Background(), opReadChunk, payload)
	if err != nil {
		return 0, err
	}
	copy(p, resp)
	if len(resp) < n {
		return len(resp), io.EOF
	}
	return len(resp), nil
}

func (rr *remoteReader) Read(p []byte) (int, error) {
	n, err := rr.ReadAt(p, rr.offset)
	rr.offset += int64(n)
	return n, err
}

func (rr *remoteReader) Seek(offset int64, whence int) (int64, error) {
	var newOff int64
	switch whence {
	case io.SeekStart:
		newOff = offset
	case io.SeekCurrent:
		newOff = rr.offset + offset
	case io.SeekEnd:
		newOff = rr.size + offset
	default:
		return 0, errors.New("remote: invalid whence")
	}
	if newOff < 0 {
		return 0, errors.New("remote: negative seek")
	}
	rr.offset = newOff
	return newOff, nil
}

func (rr *remoteReader) Close() error { return nil }
