package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one node of the pipeline graph
type Step struct {
	Name      string   `yaml:"name" json:"name"`
	DependsOn []string `yaml:"depends_on" json:"depends_on"`
}

type pipelineFile struct {
	Pipeline []Step `yaml:"pipeline"`
}

// LoadPipeline reads the step graph from pipeline.yaml.
func LoadPipeline(path string) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	steps, err := ParsePipeline(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return steps, nil
}

// ParsePipeline decodes a step graph. Ordering and cycle checks are left to
// the scheduler; this only rejects structurally empty entries.
func ParsePipeline(data []byte) ([]Step, error) {
	var f pipelineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Pipeline) == 0 {
		return nil, fmt.Errorf("pipeline has no steps")
	}
	for i := range f.Pipeline {
		s := &f.Pipeline[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline step %d has no name", i)
		}
		for j, d := range s.DependsOn {
			s.DependsOn[j] = strings.TrimSpace(d)
		}
	}
	return f.Pipeline, nil
}

// DefaultPipeline is the graph used when no pipeline.yaml is present.
func DefaultPipeline() []Step {
	return []Step{
		{Name: "topic_research"},
		{Name: "metadata_generate", DependsOn: []string{"topic_research"}},
		{Name: "script_qa", DependsOn: []string{"metadata_generate"}},
		{Name: "script_segments_generate", DependsOn: []string{"script_qa"}},
		{Name: "thumbnail_generate", DependsOn: []string{"metadata_generate"}},
	}
}
