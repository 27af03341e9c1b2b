package policy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/physics"
)

// jumper moves every state onto one of two corners within a single Euler
// sub-step: the far corner for positive commands, the origin otherwise.
type jumper struct {
	rate float64
}

func (j *jumper) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	target := 0.0
	if u[0] > 0 {
		target = 1
	}
	return dynamo.State{
		j.rate * (target - x[0]),
		j.rate * (target - x[1]),
		j.rate * (target - x[2]),
	}
}

func (j *jumper) StateDim() int   { return 3 }
func (j *jumper) ControlDim() int { return 1 }

func unitGrid() discretize.Grid {
	return discretize.Grid{
		Wheel:  discretize.MustNew(0, 1, 2),
		Angle:  discretize.MustNew(0, 1, 2),
		Rate:   discretize.MustNew(0, 1, 2),
		Action: discretize.MustNew(-1, 1, 2),
	}
}

func cornerReward(x dynamo.State) float64 {
	if x[0] > 0.5 && x[1] > 0.5 && x[2] > 0.5 {
		return 1.5
	}
	return 0
}

func newJumperSolver() *Solver {
	s := NewSolver(unitGrid(), &jumper{rate: 20}, cornerReward)
	s.Horizon = 1
	s.Substeps = 20
	return s
}

func TestSolveConvergesOnRewardedCell(t *testing.T) {
	s := newJumperSolver()

	res, err := s.Solve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sweeps != 400 {
		t.Errorf("expected 400 sweeps, got %d", res.Sweeps)
	}

	g := s.Grid
	corner := g.Index(discretize.Cell{1, 1, 1})
	if res.Values[corner] != 1.5 {
		t.Errorf("rewarded cell should keep its reward, got %v", res.Values[corner])
	}
	for i, v := range res.Values {
		if i == corner {
			continue
		}
		if math.Abs(v-0.9*1.5) > 1e-9 {
			t.Errorf("cell %v: expected %v, got %v", g.CellAt(i), 0.9*1.5, v)
		}
	}
	for i, a := range res.Table.Actions {
		if a != 1 {
			t.Errorf("cell %v: expected action 1, got %d", g.CellAt(i), a)
		}
	}
}

func TestSolveTiesGoToFirstAction(t *testing.T) {
	s := newJumperSolver()
	s.Reward = func(dynamo.State) float64 { return 0 }

	res, err := s.Solve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, a := range res.Table.Actions {
		if a != 0 {
			t.Errorf("cell %d: expected action 0 on ties, got %d", i, a)
		}
	}
}

func TestSolveTolerance(t *testing.T) {
	s := newJumperSolver()
	s.Tolerance = 1e-12

	var sweeps []SweepStats
	s.OnSweep = func(st SweepStats) { sweeps = append(sweeps, st) }

	res, err := s.Solve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Converged || res.Sweeps >= 400 {
		t.Errorf("expected early convergence, got converged=%v after %d sweeps", res.Converged, res.Sweeps)
	}
	if len(sweeps) != res.Sweeps {
		t.Errorf("expected %d sweep callbacks, got %d", res.Sweeps, len(sweeps))
	}
	if sweeps[len(sweeps)-1].Reached != 8 {
		t.Errorf("expected every cell reached, got %d", sweeps[len(sweeps)-1].Reached)
	}
}

func TestIterateIsSynchronous(t *testing.T) {
	s := newJumperSolver()
	rewards := s.Rewards()
	trans, err := s.Transitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := append([]float64(nil), rewards...)
	next := append([]float64(nil), rewards...)
	s.Iterate(rewards, values, next, trans)

	for i, v := range next {
		if rewards[i] != 0 {
			continue
		}
		if math.Abs(v-0.1*0.9*1.5) > 1e-12 {
			t.Errorf("cell %d: expected one blended backup, got %v", i, v)
		}
	}
}

func TestTransitionsKeepEquilibrium(t *testing.T) {
	g := discretize.Grid{
		Wheel:  discretize.MustNew(-400, 400, 3),
		Angle:  discretize.MustNew(-math.Pi, math.Pi, 3),
		Rate:   discretize.MustNew(-60, 60, 3),
		Action: discretize.MustNew(-1, 1, 3),
	}
	s := NewSolver(g, physics.NewReactionWheel(), BalanceReward(DefaultRewardGain, 0.3))

	trans, err := s.Transitions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	up := g.Index(discretize.Cell{1, 1, 1})
	if got := trans[up*g.Actions()+1]; got != [3]uint16{1, 1, 1} {
		t.Errorf("upright at rest should stay put, got %v", got)
	}
	for i, tr := range trans {
		if int(tr[0]) >= 3 || int(tr[1]) >= 3 || int(tr[2]) >= 3 {
			t.Fatalf("entry %d out of range: %v", i, tr)
		}
	}
}

func TestSolveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newJumperSolver().Solve(ctx)
	if !errors.Is(err, dynamo.ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", err)
	}
}

func TestSolveValidation(t *testing.T) {
	s := newJumperSolver()
	s.LearningRate = 0
	if _, err := s.Solve(context.Background()); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds, got %v", err)
	}
}

func TestBalanceReward(t *testing.T) {
	r := BalanceReward(DefaultRewardGain, 0.3)

	tests := []struct {
		name string
		x    dynamo.State
		want float64
	}{
		{"upright", dynamo.State{0, 0, 0}, 2},
		{"outside window", dynamo.State{0, 0.5, 0}, 0},
		{"saturated", dynamo.State{0, 0.25, 0}, 1},
		{"hanging", dynamo.State{0, math.Pi, 0}, 0},
	}

	for _, tt := range tests {
		if got := r(tt.x); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestTableRoundTrip(t *testing.T) {
	tbl := &Table{Grid: unitGrid(), Actions: []uint16{0, 1, 1, 0, 1, 0, 0, 1}}

	var buf bytes.Buffer
	n, err := tbl.WriteTo(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("expected %d bytes reported, got %d", buf.Len(), n)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := got.Grid.Check(tbl.Grid); err != nil {
		t.Errorf("grid changed: %v", err)
	}
	for i := range tbl.Actions {
		if got.Actions[i] != tbl.Actions[i] {
			t.Errorf("action %d: expected %d, got %d", i, tbl.Actions[i], got.Actions[i])
		}
	}
	if u := got.Lookup(dynamo.State{0, 0, 1}); u != 1 {
		t.Errorf("expected lookup 1, got %v", u)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(strings.NewReader("nope, not a table")); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}

	tbl := &Table{Grid: unitGrid(), Actions: []uint16{0, 1, 1, 0, 1, 0, 0, 7}}
	var buf bytes.Buffer
	if _, err := tbl.WriteTo(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Read(&buf); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for out-of-range action, got %v", err)
	}
}

func tableHeader(t *testing.T, counts [4]uint32) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	fields := []any{magic, uint16(formatVersion)}
	for _, n := range counts {
		fields = append(fields, axisHeader{Min: 0, Max: 1, Count: n})
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			t.Fatal(err)
		}
	}
	return &buf
}

func TestReadRejectsOversizedHeaders(t *testing.T) {
	tests := []struct {
		name    string
		counts  [4]uint32
		payload []uint16
		tooBig  bool
	}{
		{"axis count past uint16", [4]uint32{0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF}, nil, true},
		{"one large axis", [4]uint32{2, 2, math.MaxUint16 + 1, 2}, nil, true},
		{"huge grid with no payload", [4]uint32{math.MaxUint16, math.MaxUint16, math.MaxUint16, 2}, nil, false},
		{"truncated payload", [4]uint32{2, 2, 2, 2}, []uint16{0, 1, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tableHeader(t, tt.counts)
			if tt.payload != nil {
				if err := binary.Write(buf, binary.LittleEndian, tt.payload); err != nil {
					t.Fatal(err)
				}
			}
			_, err := Read(buf)
			if !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
			if tt.tooBig != errors.Is(err, ErrTooLarge) {
				t.Errorf("ErrTooLarge = %v, want %v (err %v)", errors.Is(err, ErrTooLarge), tt.tooBig, err)
			}
		})
	}

	buf := tableHeader(t, [4]uint32{2, 2, 2, 2})
	if err := binary.Write(buf, binary.LittleEndian, []uint16{0, 1, 1, 0, 1, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	tbl, err := Read(buf)
	if err != nil {
		t.Fatalf("a hand-written table should read back: %v", err)
	}
	if len(tbl.Actions) != 8 || tbl.At(discretize.Cell{1, 1, 1}) != 1 {
		t.Errorf("unexpected table %+v", tbl)
	}
}

func TestWriteGo(t *testing.T) {
	tbl := &Table{Grid: unitGrid(), Actions: []uint16{0, 1, 1, 0, 1, 0, 0, 1}}

	var buf bytes.Buffer
	if err := tbl.WriteGo(&buf, "baked", "Balance"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src := buf.String()
	for _, want := range []string{
		"package baked",
		"var BalanceGrid = discretize.Grid{",
		"Action: discretize.Discretizer{Min: -1, Max: 1, Count: 2},",
		"var BalanceActions = [8]uint16{",
		"0, 1, 1, 0, 1, 0, 0, 1,",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("generated source missing %q:\n%s", want, src)
		}
	}
}
