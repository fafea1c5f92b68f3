package coordinator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Workflow definition files are single YAML documents:
//
//	id: nightly-regression
//	name: Nightly regression pipeline
//	steps:
//	  - agent_id: generator
//	    command: generate_script
//	    delay: 250ms
//	    output_data:
//	      suite: regression
//	  - agent_id: executor
//	    command: execute_script
//	    delay: 2s
//
// Delays use Go duration syntax; a missing delay means no pacing after the
// step.

// UnmarshalYAML decodes a workflow step, accepting Go duration strings
// ("250ms", "2s") for the delay field.
func (s *WorkflowStep) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AgentID    string         `yaml:"agent_id"`
		Command    string         `yaml:"command"`
		Delay      string         `yaml:"delay"`
		OutputData map[string]any `yaml:"output_data"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.AgentID = raw.AgentID
	s.Command = raw.Command
	s.OutputData = raw.OutputData

	if raw.Delay == "" {
		s.Delay = 0
		return nil
	}
	delay, err := time.ParseDuration(raw.Delay)
	if err != nil {
		return fmt.Errorf("step delay %q: %w", raw.Delay, err)
	}
	s.Delay = delay
	return nil
}

// ParseWorkflow decodes a workflow definition from YAML and validates it.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadWorkflowFile reads a workflow definition file and parses it.
func LoadWorkflowFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseWorkflow(data)
}

// LoadWorkflowFiles parses several definition files and registers each
// workflow with the coordinator. Loading stops at the first failure.
func (c *Coordinator) LoadWorkflowFiles(paths ...string) error {
	for _, path := range paths {
		wf, err := LoadWorkflowFile(path)
		if err != nil {
			return err
		}
		if err := c.RegisterWorkflow(wf); err != nil {
			return err
		}
	}
	return nil
}
