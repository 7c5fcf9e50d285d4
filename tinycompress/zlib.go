// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. The output is readable by any zlib decoder while the
// encoder needs no tables or allocation beyond the input buffer, which
// suits the data dictionary built once at boot on the microcontroller.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// maxStoredBlock is the largest payload of one stored DEFLATE block.
const maxStoredBlock = 0xFFFF

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on
// Close.
type Writer struct {
	output   io.Writer
	inputBuf []byte
	closed   bool
}

// NewWriter creates a new zlib Writer compatible with io.WriteCloser
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		output:   w,
		inputBuf: make([]byte, 0, 4096),
	}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.inputBuf = append(w.inputBuf, p...)
	return len(p), nil
}

// Close writes the zlib header, the stored blocks and the Adler-32 trailer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// CMF 0x78: deflate, 32K window. FLG 0x9C: default level, check bits.
	if _, err := w.output.Write([]byte{0x78, 0x9C}); err != nil {
		return err
	}

	data := w.inputBuf
	for {
		n := len(data)
		if n > maxStoredBlock {
			n = maxStoredBlock
		}
		final := byte(0)
		if n == len(data) {
			final = 1
		}
		length := uint16(n)
		nlength := ^length
		header := []byte{final, byte(length), byte(length >> 8), byte(nlength), byte(nlength >> 8)}
		if _, err := w.output.Write(header); err != nil {
			return err
		}
		if _, err := w.output.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if final == 1 {
			break
		}
	}

	checksum := adler32.Checksum(w.inputBuf)
	_, err := w.output.Write([]byte{
		byte(checksum >> 24),
		byte(checksum >> 16),
		byte(checksum >> 8),
		byte(checksum),
	})
	return err
}

// Compress returns the zlib stream for data.
func Compress(data []byte) ([]byte, error) {
	var out sliceWriter
	w := NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

type sliceWriter []byte

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s = append(*s, p...)
	return len(p), nil
}
