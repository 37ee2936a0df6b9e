package services

import (
	"errors"
	"io"
)

var errBodyConsumed = errors.New("upload body already consumed")

// uploadBody wraps an upload stream so a failed key claim can be retried. Seekable bodies
// are measured up front and rewound; others can only be retried if nothing was read.
type uploadBody struct {
	src    io.Reader
	seeker io.Seeker
	start  int64
	size   int64
	read   int64
}

func newUploadBody(r io.Reader) (*uploadBody, error) {
	body := &uploadBody{src: r, size: -1}
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return body, nil
	}

	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	body.seeker = rs
	body.start = start
	body.size = end - start
	return body, nil
}

// reader returns the stream for one Put. Seekable bodies pass through unwrapped so the
// store can still seek them; others are capped one byte past limit.
func (b *uploadBody) reader(limit int64) io.Reader {
	if b.seeker != nil {
		return b.src
	}
	if limit > 0 {
		return io.LimitReader(b, limit+1)
	}
	return b
}

func (b *uploadBody) Read(p []byte) (int, error) {
	n, err := b.src.Read(p)
	b.read += int64(n)
	return n, err
}

func (b *uploadBody) rewind() error {
	if b.seeker != nil {
		_, err := b.seeker.Seek(b.start, io.SeekStart)
		return err
	}
	if b.read > 0 {
		return errBodyConsumed
	}
	return nil
}
