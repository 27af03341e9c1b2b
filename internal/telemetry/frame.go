package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxFrame bounds the payload a reader accepts.
const DefaultMaxFrame = 128

var ErrFrameTooLarge = errors.New("telemetry: frame too large")

// WriteFrame writes m behind a 2-byte big-endian length prefix in a single
// Write call.
func WriteFrame(w io.Writer, m Message) error {
	payload, err := Marshal(m)
	if err != nil {
		return err
	}
	if len(payload) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, 2, 2+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	_, err = w.Write(frame)
	return err
}

// FrameReader reads length-prefixed messages. Frames longer than the limit
// and frames that fail to decode are skipped; reading resumes at the next
// prefix.
type FrameReader struct {
	r       io.Reader
	max     int
	buf     []byte
	skipped int
}

func NewFrameReader(r io.Reader, max int) *FrameReader {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &FrameReader{r: r, max: max, buf: make([]byte, max)}
}

// Next blocks until a whole valid frame has arrived. It returns io.EOF when
// the stream ends on a frame boundary and io.ErrUnexpectedEOF when it ends
// inside one.
func (f *FrameReader) Next() (Message, error) {
	var prefix [2]byte
	for {
		if _, err := io.ReadFull(f.r, prefix[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(prefix[:]))

		if n > f.max {
			f.skipped++
			log.WithFields(log.Fields{"len": n, "max": f.max}).Warn("discarding oversized frame")
			if _, err := io.CopyN(io.Discard, f.r, int64(n)); err != nil {
				return nil, unexpected(err)
			}
			continue
		}

		if _, err := io.ReadFull(f.r, f.buf[:n]); err != nil {
			return nil, unexpected(err)
		}
		m, err := Unmarshal(f.buf[:n])
		if err != nil {
			f.skipped++
			log.WithError(err).Warn("discarding malformed frame")
			continue
		}
		return m, nil
	}
}

// Skipped counts frames discarded so far.
func (f *FrameReader) Skipped() int {
	return f.skipped
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
