package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const pipelineYAML = `id: nightly-regression
name: Nightly regression pipeline
steps:
  - agent_id: generator
    command: generate_script
    delay: 250ms
    output_data:
      suite: regression
  - agent_id: executor
    command: execute_script
    delay: 2s
  - agent_id: monitor
    command: collect_results
`

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow([]byte(pipelineYAML))
	assert.NoError(t, err)

	assert.Equal(t, "nightly-regression", wf.ID)
	assert.Equal(t, "Nightly regression pipeline", wf.Name)
	assert.Len(t, wf.Steps, 3)

	assert.Equal(t, "generator", wf.Steps[0].AgentID)
	assert.Equal(t, "generate_script", wf.Steps[0].Command)
	assert.Equal(t, 250*time.Millisecond, wf.Steps[0].Delay)
	assert.Equal(t, map[string]any{"suite": "regression"}, wf.Steps[0].OutputData)

	assert.Equal(t, 2*time.Second, wf.Steps[1].Delay)
	assert.Nil(t, wf.Steps[1].OutputData)

	// missing delay means no pacing
	assert.Equal(t, time.Duration(0), wf.Steps[2].Delay)
}

func TestParseWorkflow_InvalidDelay(t *testing.T) {
	_, err := ParseWorkflow([]byte(`id: broken
steps:
  - agent_id: worker
    command: run
    delay: soonish
`))
	assert.ErrorContains(t, err, "step delay")
}

func TestParseWorkflow_InvalidYAML(t *testing.T) {
	_, err := ParseWorkflow([]byte("id: [unclosed"))
	assert.ErrorContains(t, err, "parse workflow")
}

func TestParseWorkflow_FailsValidation(t *testing.T) {
	_, err := ParseWorkflow([]byte("id: empty\nname: no steps\n"))
	assert.ErrorContains(t, err, "no steps")
}

func TestLoadWorkflowFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o600))

	wf, err := LoadWorkflowFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "nightly-regression", wf.ID)

	_, err = LoadWorkflowFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read workflow file")
}

func TestCoordinator_LoadWorkflowFiles(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	assert.NoError(t, os.WriteFile(first, []byte(pipelineYAML), 0o600))
	assert.NoError(t, os.WriteFile(second, []byte(`id: smoke
steps:
  - agent_id: executor
    command: execute_script
`), 0o600))

	assert.NoError(t, coord.LoadWorkflowFiles(first, second))
	assert.ElementsMatch(t, []string{"nightly-regression", "smoke"}, coord.WorkflowIDs())

	// a second load of the same file hits the duplicate guard
	assert.ErrorIs(t, coord.LoadWorkflowFiles(first), ErrWorkflowExists)
}
