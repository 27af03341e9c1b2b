// Package hw adapts the pendulum's peripherals: the AS5600 magnetic angle
// sensor on an I2C bus and a simulated plant that stands in for the real
// pendulum, motor and wheel encoder.
package hw

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"tinygo.org/x/drivers"
)

const (
	AS5600Address = 0x36

	regRawAngle  = 0x0C
	countMask    = 0x0FFF
	countsPerRev = 4096
)

// AS5600 reads the raw angle register of an AS5600 magnetic encoder.
type AS5600 struct {
	bus  drivers.I2C
	addr uint16
	buf  [2]byte
}

func NewAS5600(bus drivers.I2C) *AS5600 {
	return &AS5600{bus: bus, addr: AS5600Address}
}

// Rotation returns the magnet angle in radians in [-π, π).
func (d *AS5600) Rotation(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.bus.Tx(d.addr, []byte{regRawAngle}, d.buf[:]); err != nil {
		return 0, fmt.Errorf("as5600: read raw angle: %w", err)
	}
	return countsToRadians(binary.BigEndian.Uint16(d.buf[:])), nil
}

func countsToRadians(raw uint16) float64 {
	a := float64(raw&countMask) * (2 * math.Pi / countsPerRev)
	if a >= math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// radiansToCounts is the register value a sensor at angle a would report.
func radiansToCounts(a float64) uint16 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return uint16(math.Floor(a/(2*math.Pi/countsPerRev))) & countMask
}
