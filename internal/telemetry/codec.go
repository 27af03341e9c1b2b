package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMalformed  = errors.New("telemetry: malformed message")
	ErrUnknownTag = errors.New("telemetry: unknown message tag")
)

type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) f32(v float32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(v))
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = fmt.Errorf("%w: bad varint", ErrMalformed)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) f32() float32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 4 {
		d.err = fmt.Errorf("%w: short float", ErrMalformed)
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(d.buf))
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 1 {
		d.err = fmt.Errorf("%w: short byte", ErrMalformed)
		return 0
	}
	v := d.buf[0]
	d.buf = d.buf[1:]
	return v
}

// Marshal encodes m as a varint tag followed by its fields: varints for
// integers and little-endian IEEE 754 for floats.
func Marshal(m Message) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 32)}
	e.uvarint(uint64(m.Tag()))
	switch v := m.(type) {
	case StateRecord:
		e.uvarint(v.TimeMs)
		e.f32(v.Control)
		e.f32(v.RawAngle)
		e.f32(v.Angle)
		e.f32(v.AngleRate)
		e.f32(v.WheelSpeed)
		e.buf = append(e.buf, v.Mode)
	case BenchRecord:
		e.uvarint(v.TimeMs)
		e.f32(v.Control)
		e.f32(v.SignedSpeed)
		e.f32(v.AbsSpeed)
	case Alive:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, m)
	}
	return e.buf, nil
}

// Unmarshal decodes one message. Trailing bytes are an error.
func Unmarshal(b []byte) (Message, error) {
	d := &decoder{buf: b}
	tag := Tag(d.uvarint())
	if d.err != nil {
		return nil, d.err
	}

	var m Message
	switch tag {
	case TagState:
		m = StateRecord{
			TimeMs:     d.uvarint(),
			Control:    d.f32(),
			RawAngle:   d.f32(),
			Angle:      d.f32(),
			AngleRate:  d.f32(),
			WheelSpeed: d.f32(),
			Mode:       d.u8(),
		}
	case TagBench:
		m = BenchRecord{
			TimeMs:      d.uvarint(),
			Control:     d.f32(),
			SignedSpeed: d.f32(),
			AbsSpeed:    d.f32(),
		}
	case TagAlive:
		m = Alive{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint64(tag))
	}

	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf))
	}
	return m, nil
}
