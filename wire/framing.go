// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/json"
	"io"
)

// mask applies a 0x7F byte mask on both read and write. Payload bytes
// are already ASCII (hex and base58 fields never use the high bit), so
// this is a no-op in practice, but the masking pass itself is a
// wire-compatibility property that must be preserved.
func mask(b []byte) {
	for i := range b {
		b[i] &= 0x7F
	}
}

// Reader accumulates bytes from an underlying stream and yields one
// frame -- the bytes up to and excluding a newline -- per call to
// ReadFrame, buffering partial frames across calls.
type Reader struct {
	r   io.Reader
	buf []byte
	tmp [4096]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame returns the next complete frame, blocking on the underlying
// reader as needed. It returns ErrFrameTooLarge if a frame is longer than
// MaxFrameSize, whether or not its newline has arrived yet.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for {
		if idx := bytes.IndexByte(fr.buf, '\n'); idx >= 0 {
			if idx > MaxFrameSize {
				return nil, ErrFrameTooLarge
			}
			frame := fr.buf[:idx]
			fr.buf = fr.buf[idx+1:]
			out := make([]byte, len(frame))
			copy(out, frame)
			mask(out)
			return out, nil
		}
		if len(fr.buf) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		n, err := fr.r.Read(fr.tmp[:])
		if n > 0 {
			fr.buf = append(fr.buf, fr.tmp[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadEnvelope reads one frame and decodes it as an Envelope.
func (fr *Reader) ReadEnvelope() (*Envelope, error) {
	frame, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// WriteEnvelope marshals env, masks it, appends a newline, and writes it
// to w in one call.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	mask(data)
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
