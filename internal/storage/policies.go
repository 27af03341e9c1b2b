package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/san-kum/rwpend/internal/policy"
)

const (
	policyDir = "policies"
	policyExt = ".rwpt"
)

var ErrPolicyName = errors.New("storage: invalid policy name")

// PolicyMetadata sits next to each stored table.
type PolicyMetadata struct {
	Name      string        `json:"name"`
	Timestamp time.Time     `json:"timestamp"`
	Sweeps    int           `json:"sweeps"`
	Converged bool          `json:"converged"`
	Elapsed   time.Duration `json:"elapsed"`
	States    int           `json:"states"`
	Actions   int           `json:"actions"`
}

func (s *Store) policyPath(name, ext string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrPolicyName, name)
	}
	return filepath.Join(s.baseDir, policyDir, name+ext), nil
}

// SavePolicy stores a solved table under name, replacing any previous one.
func (s *Store) SavePolicy(name string, res *policy.Result) (*PolicyMetadata, error) {
	tablePath, err := s.policyPath(name, policyExt)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(tablePath), 0755); err != nil {
		return nil, err
	}
	if err := res.Table.Save(tablePath); err != nil {
		return nil, err
	}

	meta := &PolicyMetadata{
		Name:      name,
		Timestamp: time.Now(),
		Sweeps:    res.Sweeps,
		Converged: res.Converged,
		Elapsed:   res.Elapsed,
		States:    res.Table.Grid.States(),
		Actions:   res.Table.Grid.Actions(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	metaPath, _ := s.policyPath(name, ".json")
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) LoadPolicy(name string) (*policy.Table, error) {
	path, err := s.policyPath(name, policyExt)
	if err != nil {
		return nil, err
	}
	return policy.Load(path)
}

// ListPolicies returns the stored policies sorted by name. Tables saved
// without metadata are listed with their name only.
func (s *Store) ListPolicies() ([]PolicyMetadata, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, policyDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []PolicyMetadata{}, nil
		}
		return nil, err
	}

	out := make([]PolicyMetadata, 0)
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), policyExt)
		if e.IsDir() || !ok {
			continue
		}
		meta := PolicyMetadata{Name: name}
		if data, err := os.ReadFile(filepath.Join(s.baseDir, policyDir, name+".json")); err == nil {
			_ = json.Unmarshal(data, &meta)
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
