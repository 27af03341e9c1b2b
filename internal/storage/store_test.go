package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/policy"
)

func sampleResult() *dynamo.Result {
	return &dynamo.Result{
		States: []dynamo.State{
			{0, math.Pi, 0},
			{1.5, 3.1, -0.25},
		},
		Estimates: []dynamo.State{
			{0, 3.14, 0},
			{1.25, 3.0, -0.5},
		},
		Controls:   []dynamo.Control{{-0.2}, {0.2}},
		Modes:      []string{"swinging", "swinging"},
		Times:      []float64{0.0, 0.01},
		StepsTaken: 2,
		Metrics: map[string]float64{
			"energy": 1.5,
		},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(RunMetadata{Controller: "hybrid", Estimator: "nonlinear", Seed: 42, Dt: 0.01, Duration: 0.02}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID == "" {
		t.Error("expected non-empty run id")
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Controller != "hybrid" {
		t.Errorf("expected controller 'hybrid', got '%s'", meta.Controller)
	}
	if meta.Seed != 42 {
		t.Errorf("expected seed 42, got %d", meta.Seed)
	}
	if meta.Steps != 2 {
		t.Errorf("expected 2 steps, got %d", meta.Steps)
	}
	if meta.Metrics["energy"] != 1.5 {
		t.Errorf("expected energy 1.5, got %f", meta.Metrics["energy"])
	}

	got, err := st.LoadResult(runID)
	if err != nil {
		t.Fatalf("load result failed: %v", err)
	}
	want := sampleResult()
	if len(got.States) != 2 || len(got.Estimates) != 2 || len(got.Times) != 2 {
		t.Fatalf("unexpected lengths: %d states, %d estimates, %d times", len(got.States), len(got.Estimates), len(got.Times))
	}
	for i := range want.States {
		for j := range want.States[i] {
			if math.Abs(got.States[i][j]-want.States[i][j]) > 1e-6 {
				t.Errorf("state %d[%d]: expected %f, got %f", i, j, want.States[i][j], got.States[i][j])
			}
			if math.Abs(got.Estimates[i][j]-want.Estimates[i][j]) > 1e-6 {
				t.Errorf("estimate %d[%d]: expected %f, got %f", i, j, want.Estimates[i][j], got.Estimates[i][j])
			}
		}
		if got.Controls[i][0] != want.Controls[i][0] {
			t.Errorf("control %d: expected %f, got %f", i, want.Controls[i][0], got.Controls[i][0])
		}
		if got.Modes[i] != want.Modes[i] {
			t.Errorf("mode %d: expected %s, got %s", i, want.Modes[i], got.Modes[i])
		}
	}
	if got.Metrics["energy"] != 1.5 {
		t.Errorf("expected metrics from metadata, got %v", got.Metrics)
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	first, err := st.Save(RunMetadata{Controller: "hybrid"}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := st.Save(RunMetadata{Controller: "policy"}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(st.Dir(), "stray"), 0755); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second || runs[1].ID != first {
		t.Errorf("expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestStoreListMissingDir(t *testing.T) {
	runs, err := New(filepath.Join(t.TempDir(), "absent")).List()
	if err != nil || len(runs) != 0 {
		t.Errorf("expected no runs and no error, got %v, %v", runs, err)
	}
}

func TestStoreFileStructure(t *testing.T) {
	tmpDir := t.TempDir()
	st := New(tmpDir)

	runID, err := st.Save(RunMetadata{Controller: "hybrid"}, sampleResult())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	runDir := filepath.Join(tmpDir, runID)
	for _, name := range []string{"metadata.json", "states.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); os.IsNotExist(err) {
			t.Errorf("%s not created", name)
		}
	}

	data, err := os.ReadFile(filepath.Join(runDir, "states.csv"))
	if err != nil {
		t.Fatal(err)
	}
	header := "time,wheel_speed,angle,angle_rate,est_wheel_speed,est_angle,est_angle_rate,u,mode\n"
	if !bytes.HasPrefix(data, []byte(header)) {
		t.Errorf("unexpected header: %q", data[:min(len(data), len(header))])
	}
}

func TestStoreSimErrors(t *testing.T) {
	st := New(t.TempDir())
	res := sampleResult()
	res.Errors = []error{&dynamo.SimulationError{Step: 1, Time: 0.01, Wrapped: dynamo.ErrInvalidState}}

	runID, err := st.Save(RunMetadata{Controller: "hybrid"}, res)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	meta, err := st.Load(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Errors) != 1 || !strings.HasPrefix(meta.Errors[0], "step 1 (t=0.0100): dynamo: invalid state") {
		t.Errorf("expected 1 recorded error, got %v", meta.Errors)
	}
}

func TestStoreDelete(t *testing.T) {
	st := New(t.TempDir())
	runID, err := st.Save(RunMetadata{Controller: "hybrid"}, sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(runID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := st.Load(runID); err == nil {
		t.Error("expected the run to be gone")
	}
	if err := st.Delete("nope"); err == nil {
		t.Error("expected an error deleting an unknown run")
	}
}

func TestExportJSON(t *testing.T) {
	meta := &RunMetadata{ID: "hybrid_1", Controller: "hybrid", Dt: 0.01}
	var buf bytes.Buffer
	if err := ExportJSON(&buf, meta, sampleResult()); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var got ExportData
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ID != "hybrid_1" || got.Controller != "hybrid" {
		t.Errorf("metadata not embedded: %+v", got.RunMetadata)
	}
	if len(got.States) != 2 || len(got.Controls) != 2 || got.Controls[1] != 0.2 {
		t.Errorf("unexpected series: %+v", got)
	}
}

func smallTable() *policy.Table {
	g := discretize.Grid{
		Wheel:  discretize.MustNew(-1, 1, 2),
		Angle:  discretize.MustNew(-1, 1, 2),
		Rate:   discretize.MustNew(-1, 1, 2),
		Action: discretize.MustNew(-1, 1, 3),
	}
	return &policy.Table{Grid: g, Actions: []uint16{0, 1, 2, 0, 1, 2, 0, 1}}
}

func TestPolicyStore(t *testing.T) {
	st := New(t.TempDir())

	policies, err := st.ListPolicies()
	if err != nil || len(policies) != 0 {
		t.Fatalf("expected no policies, got %v, %v", policies, err)
	}

	res := &policy.Result{Table: smallTable(), Sweeps: 12, Converged: true}
	meta, err := st.SavePolicy("small", res)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if meta.States != 8 || meta.Actions != 3 {
		t.Errorf("unexpected sizes: %+v", meta)
	}

	table, err := st.LoadPolicy("small")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	for i, a := range res.Table.Actions {
		if table.Actions[i] != a {
			t.Fatalf("action %d: expected %d, got %d", i, a, table.Actions[i])
		}
	}
	if err := table.Grid.Check(res.Table.Grid); err != nil {
		t.Errorf("grid mismatch: %v", err)
	}

	policies, err = st.ListPolicies()
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != 1 || policies[0].Name != "small" || policies[0].Sweeps != 12 || !policies[0].Converged {
		t.Errorf("unexpected listing: %+v", policies)
	}
}

func TestPolicyNames(t *testing.T) {
	st := New(t.TempDir())
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := st.LoadPolicy(name); !errors.Is(err, ErrPolicyName) {
			t.Errorf("%q: expected ErrPolicyName, got %v", name, err)
		}
	}
}
