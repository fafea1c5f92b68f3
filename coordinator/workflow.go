package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/internal/syncutil"
)

// ErrWorkflowExists is returned by RegisterWorkflow when the workflow id is
// already taken.
var ErrWorkflowExists = errors.New("workflow already registered")

// WorkflowStep is one timed command dispatch within a workflow.
type WorkflowStep struct {
	// AgentID names the step's target agent.
	AgentID string `json:"agent_id"`
	// Command becomes the content of the dispatched command message.
	Command string `json:"command"`
	// Delay paces the workflow after the dispatch. It is a pause, not an
	// acknowledgment: the step is not awaited.
	Delay time.Duration `json:"delay"`
	// OutputData merges into the execution's accumulated data after the
	// delay, before the next step builds its command.
	OutputData map[string]any `json:"output_data"`
}

// Workflow is an ordered sequence of command dispatches registered under a
// unique id. A workflow is registered once and can be executed any number of
// times, each execution with its own seed data and accumulator.
type Workflow struct {
	ID    string         `yaml:"id" json:"id"`
	Name  string         `yaml:"name" json:"name"`
	Steps []WorkflowStep `yaml:"steps" json:"steps"`
}

// Validate checks the workflow for structural problems: a missing id, an
// empty step list or steps without a target or command.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow has no id")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", w.ID)
	}
	for i, step := range w.Steps {
		if step.AgentID == "" {
			return fmt.Errorf("workflow %s step %d has no agent id", w.ID, i)
		}
		if step.Command == "" {
			return fmt.Errorf("workflow %s step %d has no command", w.ID, i)
		}
	}
	return nil
}

// RegisterWorkflow adds a workflow to the catalog. The id must be unused;
// re-registering an id returns ErrWorkflowExists.
func (c *Coordinator) RegisterWorkflow(wf *Workflow) error {
	if c.closed.Load() {
		return ErrCoordinatorClosed
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	c.wfMu.Lock()
	defer c.wfMu.Unlock()
	if _, exists := c.workflows[wf.ID]; exists {
		return fmt.Errorf("register %s: %w", wf.ID, ErrWorkflowExists)
	}
	c.workflows[wf.ID] = wf

	c.logger.Info("registered workflow %s (%d steps)", wf.ID, len(wf.Steps))
	return nil
}

// Workflow retrieves a registered workflow by id.
func (c *Coordinator) Workflow(id string) (*Workflow, bool) {
	c.wfMu.RLock()
	defer c.wfMu.RUnlock()
	wf, ok := c.workflows[id]
	return wf, ok
}

// WorkflowIDs returns the ids of all registered workflows.
func (c *Coordinator) WorkflowIDs() []string {
	c.wfMu.RLock()
	defer c.wfMu.RUnlock()
	ids := make([]string, 0, len(c.workflows))
	for id := range c.workflows {
		ids = append(ids, id)
	}
	return ids
}

// ExecuteWorkflow starts one execution of the named workflow with the given
// seed data and returns its execution id. The execution runs asynchronously
// on a tracked goroutine: steps dispatch strictly in order, each step's
// command carries a clone of the accumulated data, and the step delay paces
// the sequence. Steps are fired, not awaited; success means every step was
// dispatched. Close waits for executions started before it.
func (c *Coordinator) ExecuteWorkflow(workflowID string, seed map[string]any) (string, error) {
	if c.closed.Load() {
		return "", ErrCoordinatorClosed
	}

	wf, ok := c.Workflow(workflowID)
	if !ok {
		return "", fmt.Errorf("execute %s: %w", workflowID, ErrWorkflowNotFound)
	}

	executionID := core.NewID()

	c.wfWG.Add(1)
	syncutil.Go(c.logger, fmt.Sprintf("workflow[%s]", wf.ID), func() {
		defer c.wfWG.Done()
		c.runWorkflow(executionID, wf, seed)
	})

	c.logger.Info("workflow %s execution %s started", wf.ID, executionID)
	return executionID, nil
}

// runWorkflow drives one execution to completion on its own goroutine.
func (c *Coordinator) runWorkflow(executionID string, wf *Workflow, seed map[string]any) {
	start := time.Now()
	sender := fmt.Sprintf("workflow:%s", executionID)

	accumulated := make(map[string]any, len(seed))
	for k, v := range seed {
		accumulated[k] = v
	}

	for i, step := range wf.Steps {
		msg := core.NewCommand(sender, step.Command, cloneData(accumulated))

		// dispatch straight onto the op queue: execution may legitimately
		// outlive the closed flag while Close drains
		if err := c.ops.Enqueue(op{kind: opSend, targetID: step.AgentID, msg: msg}); err != nil {
			c.logger.Warn("workflow %s execution %s aborted at step %d: %v", wf.ID, executionID, i, err)
			return
		}

		c.logger.Debug("workflow %s execution %s step %d dispatched %s to %s", wf.ID, executionID, i, step.Command, step.AgentID)

		if step.Delay > 0 {
			time.Sleep(step.Delay)
		}

		for k, v := range step.OutputData {
			accumulated[k] = v
		}
	}

	c.logger.Info("workflow %s execution %s completed %d steps in %s", wf.ID, executionID, len(wf.Steps), time.Since(start))
}

// cloneData copies the accumulator so a dispatched command cannot observe
// later mutations.
func cloneData(data map[string]any) map[string]any {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return cp
}
