package httpmsg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// maxChunkLine bounds a chunk-size or trailer line.
const maxChunkLine = 4096

func parseChunkSize(line []byte) (int64, error) {
	line = bytes.TrimRight(line, "\r\n")
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 || len(line) > 15 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformed, line)
	}
	n, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformed, line)
	}
	return n, nil
}

// scanChunked measures a chunked body at the start of b. It reports the
// length of the encoded body including trailers once the terminating
// chunk and the final empty line are present.
func scanChunked(b []byte) (int, bool, error) {
	pos := 0
	for {
		i := bytes.Index(b[pos:], crlf)
		if i < 0 {
			if len(b)-pos > maxChunkLine {
				return 0, false, fmt.Errorf("%w: chunk size line too long", ErrMalformed)
			}
			return 0, false, nil
		}
		size, err := parseChunkSize(b[pos : pos+i])
		if err != nil {
			return 0, false, err
		}
		pos += i + 2
		if size == 0 {
			break
		}
		if int64(len(b)-pos) < size+2 {
			return 0, false, nil
		}
		pos += int(size)
		if !bytes.Equal(b[pos:pos+2], crlf) {
			return 0, false, fmt.Errorf("%w: chunk data not terminated", ErrMalformed)
		}
		pos += 2
	}
	for {
		i := bytes.Index(b[pos:], crlf)
		if i < 0 {
			if len(b)-pos > maxChunkLine {
				return 0, false, fmt.Errorf("%w: trailer line too long", ErrMalformed)
			}
			return 0, false, nil
		}
		pos += i + 2
		if i == 0 {
			return pos, true, nil
		}
	}
}

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkTrailer
	chunkDone
)

// chunkedReader copies a chunked body verbatim, chunk framing included,
// and returns io.EOF after the last trailer line. It lets a relay stop at
// the end of the message without waiting for the connection to close.
type chunkedReader struct {
	r         *bufio.Reader
	state     chunkState
	remaining int64
	pending   []byte
}

func newChunkedReader(r *bufio.Reader) io.Reader {
	return &chunkedReader{r: r}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	for {
		if len(c.pending) > 0 {
			n := copy(p, c.pending)
			c.pending = c.pending[n:]
			return n, nil
		}
		switch c.state {
		case chunkDone:
			return 0, io.EOF
		case chunkData:
			if c.remaining == 0 {
				c.state = chunkSize
				continue
			}
			if int64(len(p)) > c.remaining {
				p = p[:c.remaining]
			}
			n, err := c.r.Read(p)
			c.remaining -= int64(n)
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		case chunkSize:
			line, err := c.readLine()
			if err != nil {
				return 0, err
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return 0, err
			}
			c.pending = line
			if size == 0 {
				c.state = chunkTrailer
			} else {
				c.state = chunkData
				c.remaining = size + 2
			}
		case chunkTrailer:
			line, err := c.readLine()
			if err != nil {
				return 0, err
			}
			c.pending = line
			if bytes.Equal(line, crlf) || bytes.Equal(line, []byte("\n")) {
				c.state = chunkDone
			}
		}
	}
}

func (c *chunkedReader) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, fmt.Errorf("%w: chunk line too long", ErrMalformed)
	case errors.Is(err, io.EOF):
		return nil, io.ErrUnexpectedEOF
	case err != nil:
		return nil, err
	}
	if len(line) > maxChunkLine {
		return nil, fmt.Errorf("%w: chunk line too long", ErrMalformed)
	}
	return append([]byte(nil), line...), nil
}
