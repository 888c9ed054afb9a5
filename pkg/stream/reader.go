package stream

import (
	"errors"
	"io"
)

const readChunkSize = 4096

// Reader pulls payloads from a transport body. Next returns io.EOF once the
// sentinel is seen or the transport closes cleanly.
type Reader struct {
	src     io.Reader
	parser  *Parser
	pending []Payload
	chunk   []byte
	err     error
}

// NewReader wraps src. Closing src is the caller's job.
func NewReader(src io.Reader, opts ...Option) *Reader {
	return &Reader{
		src:    src,
		parser: NewParser(opts...),
		chunk:  make([]byte, readChunkSize),
	}
}

// Next returns the next payload.
func (r *Reader) Next() (Payload, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Payload{}, r.err
		}
		r.fill()
	}

	p := r.pending[0]
	r.pending = r.pending[1:]
	return p, nil
}

func (r *Reader) fill() {
	n, err := r.src.Read(r.chunk)
	if n > 0 {
		payloads, done := r.parser.Feed(r.chunk[:n])
		r.pending = append(r.pending, payloads...)
		if done {
			r.err = io.EOF
			return
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		r.pending = append(r.pending, r.parser.Flush()...)
		r.err = io.EOF
	default:
		r.err = err
	}
}
