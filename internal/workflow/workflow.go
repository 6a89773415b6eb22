// Package workflow parses YAML workflow documents and executes their steps
// sequentially when a matching session event fires.
package workflow

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Step is one action invocation: the action name and its raw, pre-render
// parameters.
type Step struct {
	Uses string `yaml:"uses"`
	With any    `yaml:"with"`
}

// Workflow is a parsed document: the trigger set, an optional condition
// expression, and the ordered step list.
type Workflow struct {
	TriggerEvents map[string]struct{}
	Condition     string
	Steps         []Step
}

type document struct {
	On    string `yaml:"on"`
	If    string `yaml:"if"`
	Steps []Step `yaml:"steps"`
}

// Parse reads one workflow document. Unknown top-level keys are rejected.
func Parse(r io.Reader) (*Workflow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if doc.On == "" {
		return nil, fmt.Errorf("parse workflow: missing required field %q", "on")
	}
	for i, step := range doc.Steps {
		if step.Uses == "" {
			return nil, fmt.Errorf("parse workflow: step %d is missing %q", i, "uses")
		}
	}

	return &Workflow{
		TriggerEvents: map[string]struct{}{doc.On: {}},
		Condition:     doc.If,
		Steps:         doc.Steps,
	}, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(b []byte) (*Workflow, error) {
	return Parse(bytes.NewReader(b))
}
