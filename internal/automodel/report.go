package automodel

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CVScore is a cross-validation score for one iteration's model.
type CVScore struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// IterationReport records one forward-loop iteration for the run report.
type IterationReport struct {
	Iteration   int       `json:"iteration"`
	ModelFile   string    `json:"model_file"`
	Suggested   []float64 `json:"suggested_params"`
	NComponents int       `json:"n_components"`
	StopReason  string    `json:"stop_reason,omitempty"`
	ForcedBy    string    `json:"forced_by,omitempty"`
	CV          *CVScore  `json:"cv,omitempty"`
}

// RunReport is the machine-readable summary of an automodeling run, written
// to the output directory and served over MCP.
type RunReport struct {
	Source   string    `json:"source"`
	DataPath string    `json:"data_path"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Iterations []IterationReport `json:"iterations"`

	SelectorIndices  map[string]int    `json:"selector_indices,omitempty"`
	ChosenIndex      int               `json:"chosen_index"`
	FilterRejections []FilterRejection `json:"filter_rejections,omitempty"`

	BestModel string `json:"best_model,omitempty"`
	Archive   string `json:"archive,omitempty"`
	Failure   string `json:"failure,omitempty"`
}

// Write stores the report as indented JSON at path.
func (r *RunReport) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}
