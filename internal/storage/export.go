package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/rwpend/internal/dynamo"
)

type ExportData struct {
	RunMetadata
	Times     []float64   `json:"times"`
	States    [][]float64 `json:"states"`
	Estimates [][]float64 `json:"estimates"`
	Controls  []float64   `json:"controls"`
	Modes     []string    `json:"modes"`
}

func exportData(meta *RunMetadata, result *dynamo.Result) ExportData {
	data := ExportData{
		RunMetadata: *meta,
		Times:       result.Times,
		States:      make([][]float64, len(result.States)),
		Estimates:   make([][]float64, len(result.Estimates)),
		Controls:    make([]float64, len(result.Controls)),
		Modes:       result.Modes,
	}
	for i, s := range result.States {
		data.States[i] = s
	}
	for i, s := range result.Estimates {
		data.Estimates[i] = s
	}
	for i, c := range result.Controls {
		if len(c) > 0 {
			data.Controls[i] = c[0]
		}
	}
	return data
}

// ExportJSON writes a run with its metadata as one indented JSON document.
func ExportJSON(w io.Writer, meta *RunMetadata, result *dynamo.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exportData(meta, result))
}

func ExportJSONFile(path string, meta *RunMetadata, result *dynamo.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ExportJSON(file, meta, result); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
