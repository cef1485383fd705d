// Package compress streams data into an image through a block buffer,
// deflating it on the way out. Fixed-width integers are inserted MSB
// first so the target loader reads them without caring about host byte
// order.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Source supplies bytes for the compressor to pull, positioned by Seek.
// An object image, standalone or inside an archive, satisfies it.
type Source interface {
	Seek(offset int64) error
	Read(buffer []byte) (int, error)
}

// Sink receives the compressor's output bytes.
type Sink interface {
	Write(buffer []byte) (int, error)
}

// countingSink counts the bytes that reach the image.
type countingSink struct {
	sink  Sink
	total int64
}

func (cs *countingSink) Write(p []byte) (int, error) {
	n, err := cs.sink.Write(p)
	cs.total += int64(n)
	return n, err
}

// Compressor buffers writes into fixed-size blocks and deflates them
// into the sink. With compression off the bytes pass straight through,
// which is how an uncompressed stream is produced for inspection.
type Compressor struct {
	out      *countingSink
	deflater *flate.Writer
	buffer   []byte
	level    int
	total    int64
}

// New builds a compressor over the image with the given block buffer
// size.
func New(image Sink, size int, compressed bool) (*Compressor, error) {
	c := &Compressor{
		out:    &countingSink{sink: image},
		buffer: make([]byte, size),
	}
	if compressed {
		deflater, err := flate.NewWriter(c.out, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		c.deflater = deflater
	}
	return c, nil
}

// Write appends data to the stream.
func (c *Compressor) Write(data []byte) error {
	for len(data) > 0 {
		appending := len(c.buffer) - c.level
		if appending > len(data) {
			appending = len(data)
		}

		copy(c.buffer[c.level:], data[:appending])
		c.level += appending
		c.total += int64(appending)
		data = data[appending:]

		if c.level >= len(c.buffer) {
			if err := c.output(); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteSource appends length bytes of the source, starting at offset,
// pulling them through the block buffer.
func (c *Compressor) WriteSource(input Source, offset, length int64) error {
	if err := input.Seek(offset); err != nil {
		return err
	}

	for length > 0 {
		appending := int64(len(c.buffer) - c.level)
		if appending > length {
			appending = length
		}

		n, err := input.Read(c.buffer[c.level : c.level+int(appending)])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("compress: source short read (%d left)", length)
		}

		c.level += n
		c.total += int64(n)
		length -= int64(n)

		if c.level >= len(c.buffer) {
			if err := c.output(); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteUint32 inserts a fixed-width integer, most significant byte
// first.
func (c *Compressor) WriteUint32(value uint32) error {
	var bytes [4]byte
	for b := len(bytes) - 1; b >= 0; b-- {
		bytes[b] = uint8(value)
		value >>= 8
	}
	return c.Write(bytes[:])
}

// WriteUint64 inserts a 64-bit integer, most significant byte first.
func (c *Compressor) WriteUint64(value uint64) error {
	var bytes [8]byte
	for b := len(bytes) - 1; b >= 0; b-- {
		bytes[b] = uint8(value)
		value >>= 8
	}
	return c.Write(bytes[:])
}

// WriteString inserts the raw string bytes.
func (c *Compressor) WriteString(str string) error {
	return c.Write([]byte(str))
}

func (c *Compressor) output() error {
	if c.level == 0 {
		return nil
	}
	var err error
	if c.deflater != nil {
		_, err = c.deflater.Write(c.buffer[:c.level])
	} else {
		_, err = c.out.Write(c.buffer[:c.level])
	}
	c.level = 0
	return err
}

// Flush drains the block buffer and terminates the compressed stream.
func (c *Compressor) Flush() error {
	if err := c.output(); err != nil {
		return err
	}
	if c.deflater != nil {
		if err := c.deflater.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Transferred is the uncompressed byte count moved through the
// compressor.
func (c *Compressor) Transferred() int64 { return c.total }

// Compressed is the byte count that reached the image.
func (c *Compressor) Compressed() int64 { return c.out.total }

// sourceReader adapts a Source to io.Reader for inflation.
type sourceReader struct {
	src Source
}

func (r *sourceReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Expand inflates length compressed bytes of the source, from offset,
// into the sink. It is the read-side twin of the compressor, used to
// unpack an application image.
func Expand(input Source, output Sink, offset, length int64) (int64, error) {
	if err := input.Seek(offset); err != nil {
		return 0, err
	}

	inflater := flate.NewReader(io.LimitReader(&sourceReader{src: input}, length))
	defer inflater.Close()

	var total int64
	buffer := make([]byte, 8*1024)
	for {
		n, err := inflater.Read(buffer)
		if n > 0 {
			w, werr := output.Write(buffer[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, fmt.Errorf("compress: expand short write")
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("compress: expand: %w", err)
		}
	}
}
