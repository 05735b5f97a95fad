// ABOUTME: YAML export and import of recorded runs for offline inspection.
// ABOUTME: Durations are written as Go duration strings so the files read naturally.

package store

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/buddy/workflow"
)

// Export is the document written by ExportYAML.
type Export struct {
	Runs []workflow.Run `yaml:"runs"`
}

// ExportYAML writes the runs selected by opts to w.
func ExportYAML(ctx context.Context, w io.Writer, s RunStore, opts ListOptions) (int, error) {
	runs, err := s.ListRuns(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}
	if runs == nil {
		runs = []workflow.Run{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Export{Runs: runs}); err != nil {
		return 0, fmt.Errorf("encode runs: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("flush runs: %w", err)
	}
	return len(runs), nil
}

// ReadExport parses a document produced by ExportYAML.
func ReadExport(r io.Reader) (Export, error) {
	var doc Export
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return Export{}, fmt.Errorf("decode runs: %w", err)
	}
	return doc, nil
}
