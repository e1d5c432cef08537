package blte

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// Reader sequentially decodes one chunk at a time, holding at most one
// decoded chunk in memory — the streaming contract of spec.md §4.5: callers
// that only need the first few chunks of a large file never pay for the
// rest. Cancellation is honored between chunks via the supplied context.
type Reader struct {
	ctx    context.Context
	src    io.ReaderAt
	keys   KeyLookup
	hdr    *Header
	base   int64 // file offset where the chunk bodies begin
	idx    int
	pos    int64 // running byte offset into body of the next chunk; unused in the SingleChunk case
	cur    *bytes.Reader
	closed bool
}

// NewReader parses the BLTE header at the start of src (read via ReadAt,
// so the source may be a memory-mapped archive region) and returns a
// sequential chunk reader.
func NewReader(ctx context.Context, src io.ReaderAt, totalSize int64, keys KeyLookup) (*Reader, error) {
	head := make([]byte, minInt64(totalSize, 4096))
	if _, err := src.ReadAt(head, 0); err != nil && err != io.EOF {
		return nil, err
	}
	hdr, headerLen, err := ParseHeader(head)
	if err != nil {
		return nil, err
	}
	return &Reader{ctx: ctx, src: src, keys: keys, hdr: hdr, base: int64(headerLen)}, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Read implements io.Reader, materializing one chunk at a time.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	for r.cur == nil || r.cur.Len() == 0 {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if err := r.advance(); err != nil {
			return 0, err
		}
	}
	return r.cur.Read(p)
}

func (r *Reader) advance() error {
	if r.hdr.SingleChunk {
		if r.idx > 0 {
			return io.EOF
		}
		r.idx++
		// Length is unknown up front for the header_size==0 form; read until
		// the reader reports EOF via a generous, growing buffer.
		var buf bytes.Buffer
		chunk := make([]byte, 64*1024)
		off := r.base
		for {
			n, err := r.src.ReadAt(chunk, off)
			buf.Write(chunk[:n])
			off += int64(n)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
		}
		decoded, err := decodeChunkBody(buf.Bytes(), 0, r.keys, 0)
		if err != nil {
			return err
		}
		r.cur = bytes.NewReader(decoded)
		return nil
	}

	if r.idx >= len(r.hdr.Chunks) {
		return io.EOF
	}
	c := r.hdr.Chunks[r.idx]
	raw := make([]byte, c.CompressedSize)
	if _, err := r.src.ReadAt(raw, r.base+r.pos); err != nil && err != io.EOF {
		return err
	}
	sum := md5.Sum(raw)
	if sum != c.Checksum {
		return &ngdperr.Integrity{
			Kind: "bad_checksum", Resource: fmt.Sprintf("chunk %d", r.idx),
			Expected: fmt.Sprintf("%x", c.Checksum), Actual: fmt.Sprintf("%x", sum),
		}
	}
	decoded, err := decodeChunkBody(raw, r.idx, r.keys, 0)
	if err != nil {
		return err
	}
	r.cur = bytes.NewReader(decoded)
	r.pos += int64(c.CompressedSize)
	r.idx++
	return nil
}

// Close releases the reader. It does not close the underlying source.
func (r *Reader) Close() error {
	r.closed = true
	return nil
}
