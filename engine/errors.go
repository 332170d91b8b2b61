// Package engine compiles a validated workflow config into an executable
// graph and runs it: node execution, routing, loops, parallel fan-out,
// persistence, and tracing.
package engine

import "fmt"

// Phase identifies where in the node pipeline a failure occurred.
type Phase string

const (
	PhaseInputMapping     Phase = "input_mapping"
	PhasePrompt           Phase = "prompt"
	PhaseProvider         Phase = "provider"
	PhaseTool             Phase = "tool"
	PhaseOutputValidation Phase = "output_validation"
)

// NodeExecutionError is the failure surface for a single node execution.
type NodeExecutionError struct {
	NodeID string
	Phase  Phase
	Cause  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed in phase %s: %v", e.NodeID, e.Phase, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

func nodeErr(nodeID string, phase Phase, cause error) error {
	return &NodeExecutionError{NodeID: nodeID, Phase: phase, Cause: cause}
}

// ConfigError reports a workflow that failed loading or validation; the
// run never started.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("workflow config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// RuntimeError reports an engine-level failure outside any node pipeline
// (routing evaluation, state application).
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *RuntimeError) Unwrap() error { return e.Err }
