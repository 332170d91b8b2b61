package state

import (
	"fmt"

	"github.com/lyzr/graphflow/schema"
)

// OutputError reports a structured response that does not satisfy the node's
// output schema.
type OutputError struct {
	Node string
	Msg  string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("node %q output: %s", e.Node, e.Msg)
}

// OutputModel validates an LLM's structured response for one node and turns
// it into a state delta keyed by the node's declared outputs.
type OutputModel struct {
	node    string
	outputs []string
	shape   schema.Type // always an object; the shape sent to the provider
	wrapped bool        // scalar schema wrapped as {result}
}

// resultKey is the wrapper field for scalar output schemas, so the provider
// always returns an object.
const resultKey = "result"

// BuildOutputModel constructs the per-node output validator. A scalar schema
// (anything but object) requires exactly one declared output and is wrapped
// as {result: <value>}. An object schema's fields must match the declared
// outputs one-to-one, and nested object fields are rejected (not supported
// in v1).
func BuildOutputModel(nodeID string, outputSchema schema.Type, outputs []string, descriptions map[string]string) (*OutputModel, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("node %q: declares no outputs", nodeID)
	}

	if outputSchema.Kind != schema.KindObject {
		if len(outputs) != 1 {
			return nil, fmt.Errorf("node %q: scalar output schema requires exactly one output, got %d", nodeID, len(outputs))
		}
		shape := schema.Object(schema.Field{
			Name:        resultKey,
			Type:        outputSchema,
			Description: descriptions[outputs[0]],
		})
		return &OutputModel{node: nodeID, outputs: outputs, shape: shape, wrapped: true}, nil
	}

	if outputSchema.Fields == nil {
		return nil, fmt.Errorf("node %q: output schema must declare its fields", nodeID)
	}
	declared := make(map[string]bool, len(outputSchema.Fields))
	fields := make([]schema.Field, 0, len(outputSchema.Fields))
	for _, f := range outputSchema.Fields {
		if f.Type.Kind == schema.KindObject {
			return nil, fmt.Errorf("node %q: output field %q: nested objects in outputs are not supported", nodeID, f.Name)
		}
		if f.Description == "" {
			f.Description = descriptions[f.Name]
		}
		declared[f.Name] = true
		fields = append(fields, f)
	}
	for _, out := range outputs {
		if !declared[out] {
			return nil, fmt.Errorf("node %q: output %q has no field in the output schema", nodeID, out)
		}
	}
	if len(outputs) != len(outputSchema.Fields) {
		return nil, fmt.Errorf("node %q: output schema declares %d fields for %d outputs", nodeID, len(outputSchema.Fields), len(outputs))
	}

	return &OutputModel{node: nodeID, outputs: outputs, shape: schema.Object(fields...)}, nil
}

// Outputs returns the state field names this model writes.
func (m *OutputModel) Outputs() []string { return m.outputs }

// Shape returns the object schema sent to the provider.
func (m *OutputModel) Shape() schema.Type { return m.shape }

// Parse validates the raw structured response and produces a delta whose
// keys are exactly the node's declared outputs.
func (m *OutputModel) Parse(raw map[string]any) (Delta, error) {
	if raw == nil {
		return nil, &OutputError{Node: m.node, Msg: "response is not an object"}
	}
	if err := m.shape.CheckValue(raw); err != nil {
		return nil, &OutputError{Node: m.node, Msg: err.Error()}
	}
	if m.wrapped {
		return Delta{m.outputs[0]: raw[resultKey]}, nil
	}
	delta := make(Delta, len(m.outputs))
	for _, out := range m.outputs {
		delta[out] = raw[out]
	}
	return delta, nil
}
