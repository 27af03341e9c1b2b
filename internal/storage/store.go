// Package storage keeps closed-loop runs and solved policies on disk: one
// directory per run with metadata.json and states.csv, and one binary table
// per policy.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/rwpend/internal/dynamo"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string {
	return s.baseDir
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Controller string             `json:"controller"`
	Estimator  string             `json:"estimator"`
	Seed       uint64             `json:"seed"`
	Dt         float64            `json:"dt"`
	Duration   float64            `json:"duration"`
	Initial    []float64          `json:"initial"`
	Steps      int                `json:"steps"`
	Metrics    map[string]float64 `json:"metrics"`
	Errors     []string           `json:"errors,omitempty"`
}

var csvHeader = []string{
	"time",
	"wheel_speed", "angle", "angle_rate",
	"est_wheel_speed", "est_angle", "est_angle_rate",
	"u", "mode",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Save writes a run under a fresh ID derived from the controller name and
// returns that ID. ID, Timestamp, Steps, Metrics and Errors in meta are
// filled in from the result.
func (s *Store) Save(meta RunMetadata, result *dynamo.Result) (string, error) {
	now := time.Now()
	meta.ID = fmt.Sprintf("%s_%d", meta.Controller, now.UnixNano())
	meta.Timestamp = now
	meta.Steps = result.StepsTaken
	meta.Metrics = result.Metrics
	for _, err := range result.Errors {
		meta.Errors = append(meta.Errors, err.Error())
	}

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	if err := writeStates(filepath.Join(runDir, "states.csv"), result); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func writeStates(path string, result *dynamo.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	row := make([]string, len(csvHeader))
	for i := range result.States {
		row = row[:0]
		row = append(row, formatFloat(result.Times[i]))
		for _, v := range padded(result.States[i]) {
			row = append(row, formatFloat(v))
		}
		var est dynamo.State
		if i < len(result.Estimates) {
			est = result.Estimates[i]
		}
		for _, v := range padded(est) {
			row = append(row, formatFloat(v))
		}
		u := 0.0
		if i < len(result.Controls) && len(result.Controls[i]) > 0 {
			u = result.Controls[i][0]
		}
		row = append(row, formatFloat(u))
		mode := ""
		if i < len(result.Modes) {
			mode = result.Modes[i]
		}
		row = append(row, mode)

		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func padded(x dynamo.State) [dynamo.StateDim]float64 {
	var out [dynamo.StateDim]float64
	copy(out[:], x)
	return out
}

// List returns the metadata of every run, newest first. Directories
// without readable metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadResult reads states.csv back into a Result. Metrics come from the
// run's metadata.
func (s *Store) LoadResult(runID string) (*dynamo.Result, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(s.baseDir, runID, "states.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(csvHeader)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s states: %w", runID, err)
	}

	result := &dynamo.Result{Metrics: meta.Metrics}
	if len(records) < 2 {
		return result, nil
	}

	for line, record := range records[1:] {
		vals := make([]float64, len(record)-1)
		for j := range vals {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("states.csv line %d: %w", line+2, err)
			}
			vals[j] = v
		}
		result.Times = append(result.Times, vals[0])
		result.States = append(result.States, dynamo.State(vals[1:4]).Clone())
		result.Estimates = append(result.Estimates, dynamo.State(vals[4:7]).Clone())
		result.Controls = append(result.Controls, dynamo.Control{vals[7]})
		result.Modes = append(result.Modes, record[len(record)-1])
	}
	result.StepsTaken = len(result.Times)
	return result, nil
}

func (s *Store) Delete(runID string) error {
	dir := filepath.Join(s.baseDir, runID)
	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
		return fmt.Errorf("no run %q: %w", runID, err)
	}
	return os.RemoveAll(dir)
}
