// Package telemetry carries controller records from the control loop to a
// remote receiver.
//
// Messages are encoded with a compact tagged binary codec and framed with a
// 2-byte big-endian length prefix. The sending side never blocks the loop:
// records go through a bounded Queue that drops when full, and a
// Transmitter drains it over TCP, re-listening with capped exponential
// backoff after failures.
package telemetry

import "fmt"

// Tag identifies a message variant on the wire.
type Tag uint64

const (
	TagState Tag = iota
	TagBench
	TagAlive
)

func (t Tag) String() string {
	switch t {
	case TagState:
		return "state"
	case TagBench:
		return "bench"
	case TagAlive:
		return "alive"
	default:
		return fmt.Sprintf("tag(%d)", uint64(t))
	}
}

type Message interface {
	Tag() Tag
}

// StateRecord is one control tick as seen by the controller.
type StateRecord struct {
	TimeMs     uint64  `json:"time_ms"`
	Control    float32 `json:"control"`
	RawAngle   float32 `json:"raw_angle"`
	Angle      float32 `json:"angle"`
	AngleRate  float32 `json:"angle_rate"`
	WheelSpeed float32 `json:"wheel_speed"`
	Mode       uint8   `json:"mode"`
}

func (StateRecord) Tag() Tag { return TagState }

// BenchRecord is a wheel speed sample from the encoder counters.
type BenchRecord struct {
	TimeMs      uint64  `json:"time_ms"`
	Control     float32 `json:"control"`
	SignedSpeed float32 `json:"signed_speed"`
	AbsSpeed    float32 `json:"abs_speed"`
}

func (BenchRecord) Tag() Tag { return TagBench }

// Alive is the heartbeat.
type Alive struct{}

func (Alive) Tag() Tag { return TagAlive }
