// Package workflow defines the typed configuration IR for a workflow
// document, the YAML/JSON loader that produces it, and the semantic
// validator that runs before graph build.
package workflow

import (
	"fmt"
	"strings"

	"github.com/lyzr/graphflow/schema"
	"github.com/lyzr/graphflow/state"
)

// Sentinel node ids. They appear in edges but are not executable nodes.
const (
	StartNode = "START"
	EndNode   = "END"
)

// SupportedSchemaMajor is the runtime's capability tier. Documents with a
// higher major version are rejected; a higher minor produces a warning.
const (
	SupportedSchemaMajor = 1
	SupportedSchemaMinor = 0
)

// Config is the immutable workflow IR produced by Load.
type Config struct {
	SchemaVersion string
	Flow          FlowMeta
	State         []StateField
	Nodes         []NodeConfig
	Edges         []EdgeConfig
	Settings      Settings

	// Warnings collected during load (soft feature gates and the like).
	Warnings []string
}

// FlowMeta names the workflow.
type FlowMeta struct {
	Name    string
	Version string
}

// StateField is one declared state field.
type StateField struct {
	Name        string
	Type        schema.Type
	Required    bool
	Default     any
	HasDefault  bool
	Description string
	Reducer     state.Reducer
	ReducerSet  bool // reducer was declared explicitly
	Line        int
}

// NodeConfig is one executable node.
type NodeConfig struct {
	ID           string
	Prompt       string
	SystemPrompt string
	Inputs       []InputMapping
	Outputs      []string
	OutputSchema *schema.Type // nil defaults to str wrapped as {result}
	Tools        []string
	LLM          *LLMConfig // per-node override, field-wise over globals
	LogPayloads  bool
	Line         int
}

// InputMapping is one declared node input: a name bound to a template string
// resolved against state.
type InputMapping struct {
	Name     string
	Template string
}

// EdgeKind discriminates the EdgeConfig variant.
type EdgeKind int

const (
	EdgeLinear EdgeKind = iota
	EdgeConditional
	EdgeLoop
	EdgeParallel
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeLinear:
		return "linear"
	case EdgeConditional:
		return "conditional"
	case EdgeLoop:
		return "loop"
	case EdgeParallel:
		return "parallel"
	}
	return "unknown"
}

// EdgeConfig is a tagged edge variant.
type EdgeConfig struct {
	Kind EdgeKind
	From string
	To   string // linear, loop, parallel

	// Conditional
	Routes  []Route
	Default string

	// Loop
	Loop *LoopSpec

	// Parallel
	Parallel *ParallelSpec

	Line int
}

// Route is one conditional branch; conditions are evaluated in declared
// order, first match wins.
type Route struct {
	Condition string
	To        string
}

// LoopSpec re-enters To while Condition holds and the iteration counter is
// below MaxIterations.
type LoopSpec struct {
	Condition     string
	MaxIterations int
}

// ParallelSpec fans out one branch per element of ItemsField, binding the
// element to EachField, and collects branch results into CollectField.
type ParallelSpec struct {
	ItemsField   string
	CollectField string
	EachField    string
}

// Settings is the optional global "config" section.
type Settings struct {
	LLM           LLMConfig
	Execution     ExecutionConfig
	Observability ObservabilityConfig
	Storage       StorageConfig
}

// LLMConfig holds provider parameters. Pointer fields distinguish "unset"
// from zero for field-wise merging of node overrides.
type LLMConfig struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int
	TopP        *float64
	APIBase     string
}

// Merge overlays per-node values onto globals, field-wise.
func (c LLMConfig) Merge(override *LLMConfig) LLMConfig {
	if override == nil {
		return c
	}
	out := c
	if override.Provider != "" {
		out.Provider = override.Provider
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.APIBase != "" {
		out.APIBase = override.APIBase
	}
	return out
}

// Failure policies for parallel fan-in.
const (
	FailFast      = "fail_fast"
	CollectErrors = "collect_errors"
)

// ExecutionConfig holds run-level limits.
type ExecutionConfig struct {
	TimeoutSeconds         int
	MaxRetries             int
	ParallelMaxConcurrency int
	ParallelFailurePolicy  string
}

// ObservabilityConfig selects the tracing sink and snapshot verbosity.
type ObservabilityConfig struct {
	Enabled        bool
	TrackingURI    string
	ExperimentName string
	AsyncLogging   bool
	ArtifactLevel  string // minimal | standard | full
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string // sqlite | postgres
	URL     string
	Path    string
}

// applyDefaults normalizes zero values to the documented defaults.
func (c *Config) applyDefaults() {
	if c.Settings.Execution.TimeoutSeconds == 0 {
		c.Settings.Execution.TimeoutSeconds = 120
	}
	if c.Settings.Execution.MaxRetries == 0 {
		c.Settings.Execution.MaxRetries = 3
	}
	if c.Settings.Execution.ParallelFailurePolicy == "" {
		c.Settings.Execution.ParallelFailurePolicy = FailFast
	}
	if c.Settings.Observability.ArtifactLevel == "" {
		c.Settings.Observability.ArtifactLevel = "standard"
	}
	if c.Settings.Storage.Backend == "" {
		c.Settings.Storage.Backend = "sqlite"
		if c.Settings.Storage.Path == "" {
			c.Settings.Storage.Path = "graphflow.db"
		}
	}
}

// Node returns the node config for id.
func (c *Config) Node(id string) (*NodeConfig, bool) {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i], true
		}
	}
	return nil, false
}

// Field returns the state field for name.
func (c *Config) Field(name string) (*StateField, bool) {
	for i := range c.State {
		if c.State[i].Name == name {
			return &c.State[i], true
		}
	}
	return nil, false
}

// NodeIDs returns declared node ids in document order.
func (c *Config) NodeIDs() []string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// FieldNames returns declared state field names in document order.
func (c *Config) FieldNames() []string {
	names := make([]string, len(c.State))
	for i, f := range c.State {
		names[i] = f.Name
	}
	return names
}

// StateSchema builds the runtime state schema from the declared fields.
func (c *Config) StateSchema() (*state.Schema, error) {
	specs := make([]state.FieldSpec, len(c.State))
	for i, f := range c.State {
		specs[i] = state.FieldSpec{
			Name:        f.Name,
			Type:        f.Type,
			Required:    f.Required,
			Default:     f.Default,
			HasDefault:  f.HasDefault,
			Description: f.Description,
			Reducer:     f.Reducer,
		}
	}
	return state.NewSchema(specs)
}

// CacheKey identifies a workflow version for compiled-config caching.
func (c *Config) CacheKey() string {
	version := c.Flow.Version
	if version == "" {
		version = "0"
	}
	return fmt.Sprintf("workflow:%s:%s", c.Flow.Name, version)
}

// parseSchemaVersion splits "1.0" into major/minor.
func parseSchemaVersion(s string) (major, minor int, err error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schema_version %q: want MAJOR.MINOR", s)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &major); err != nil {
		return 0, 0, fmt.Errorf("schema_version %q: bad major version", s)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minor); err != nil {
		return 0, 0, fmt.Errorf("schema_version %q: bad minor version", s)
	}
	return major, minor, nil
}
