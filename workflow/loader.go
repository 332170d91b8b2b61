package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/graphflow/schema"
	"github.com/lyzr/graphflow/state"
)

// LoadError reports a structural problem in the document, with the source
// line where it occurred.
type LoadError struct {
	Line int
	Msg  string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func loadErrf(n *yaml.Node, format string, args ...any) error {
	line := 0
	if n != nil {
		line = n.Line
	}
	return &LoadError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// LoadFile reads and parses a workflow document from disk. YAML and JSON are
// both accepted (JSON is a YAML subset).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Load(data)
}

// Load parses a workflow document into the typed IR. Load performs no I/O
// and no semantic validation; run Validate on the result before building.
func Load(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Msg: fmt.Sprintf("parse document: %v", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &LoadError{Msg: "empty document"}
	}
	doc := root.Content[0]
	top, err := mappingPairs(doc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	seen := map[string]bool{}
	for _, kv := range top {
		seen[kv.key] = true
		switch kv.key {
		case "schema_version":
			cfg.SchemaVersion, err = scalarString(kv.val)
		case "flow":
			err = decodeFlow(kv.val, cfg)
		case "state":
			err = decodeState(kv.val, cfg)
		case "nodes":
			err = decodeNodes(kv.val, cfg)
		case "edges":
			err = decodeEdges(kv.val, cfg)
		case "config":
			err = decodeSettings(kv.val, cfg)
		default:
			err = loadErrf(kv.keyNode, "unknown top-level key %q", kv.key)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, required := range []string{"schema_version", "flow", "state", "nodes", "edges"} {
		if !seen[required] {
			return nil, loadErrf(doc, "missing required top-level key %q", required)
		}
	}

	major, minor, err := parseSchemaVersion(cfg.SchemaVersion)
	if err != nil {
		return nil, &LoadError{Line: doc.Line, Msg: err.Error()}
	}
	if major != SupportedSchemaMajor {
		return nil, loadErrf(doc, "schema_version %s is not supported by this runtime (supports %d.x)", cfg.SchemaVersion, SupportedSchemaMajor)
	}
	if minor > SupportedSchemaMinor {
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("schema_version %s is newer than the supported %d.%d; unrecognized features may be rejected",
				cfg.SchemaVersion, SupportedSchemaMajor, SupportedSchemaMinor))
	}

	// A parallel collect field without an explicit reducer defaults to
	// append; declaring it replace is caught by the validator.
	for _, e := range cfg.Edges {
		if e.Kind == EdgeParallel && e.Parallel != nil {
			if f, ok := cfg.Field(e.Parallel.CollectField); ok && !f.ReducerSet {
				f.Reducer = state.Append
				f.ReducerSet = true
			}
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// ---- section decoders ----

func decodeFlow(n *yaml.Node, cfg *Config) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "name":
			cfg.Flow.Name, err = scalarString(kv.val)
		case "version":
			cfg.Flow.Version, err = scalarString(kv.val)
		default:
			err = loadErrf(kv.keyNode, "unknown flow key %q", kv.key)
		}
		if err != nil {
			return err
		}
	}
	if cfg.Flow.Name == "" {
		return loadErrf(n, "flow.name is required")
	}
	return nil
}

func decodeState(n *yaml.Node, cfg *Config) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		if kv.key != "fields" {
			return loadErrf(kv.keyNode, "unknown state key %q", kv.key)
		}
		fieldPairs, err := mappingPairs(kv.val)
		if err != nil {
			return err
		}
		for _, fp := range fieldPairs {
			field, err := decodeStateField(fp.key, fp.val)
			if err != nil {
				return err
			}
			field.Line = fp.keyNode.Line
			cfg.State = append(cfg.State, field)
		}
	}
	if len(cfg.State) == 0 {
		return loadErrf(n, "state.fields must declare at least one field")
	}
	return nil
}

func decodeStateField(name string, n *yaml.Node) (StateField, error) {
	field := StateField{Name: name}
	pairs, err := mappingPairs(n)
	if err != nil {
		return field, err
	}
	sawType := false
	for _, kv := range pairs {
		switch kv.key {
		case "type":
			str, err := scalarString(kv.val)
			if err != nil {
				return field, err
			}
			t, err := schema.ParseType(str)
			if err != nil {
				return field, loadErrf(kv.val, "field %q: %v", name, err)
			}
			field.Type = t
			sawType = true
		case "required":
			field.Required, err = scalarBool(kv.val)
		case "default":
			var v any
			if err := kv.val.Decode(&v); err != nil {
				return field, loadErrf(kv.val, "field %q: bad default: %v", name, err)
			}
			field.Default = normalizeYAML(v)
			field.HasDefault = true
		case "description":
			field.Description, err = scalarString(kv.val)
		case "reducer":
			str, serr := scalarString(kv.val)
			if serr != nil {
				return field, serr
			}
			field.Reducer, err = state.ParseReducer(str)
			if err != nil {
				return field, loadErrf(kv.val, "field %q: %v", name, err)
			}
			field.ReducerSet = true
		default:
			err = loadErrf(kv.keyNode, "field %q: unknown key %q", name, kv.key)
		}
		if err != nil {
			return field, err
		}
	}
	if !sawType {
		return field, loadErrf(n, "field %q: type is required", name)
	}
	return field, nil
}

func decodeNodes(n *yaml.Node, cfg *Config) error {
	items, err := sequenceItems(n)
	if err != nil {
		return err
	}
	for _, item := range items {
		node, err := decodeNode(item)
		if err != nil {
			return err
		}
		cfg.Nodes = append(cfg.Nodes, node)
	}
	if len(cfg.Nodes) == 0 {
		return loadErrf(n, "nodes must declare at least one node")
	}
	return nil
}

func decodeNode(n *yaml.Node) (NodeConfig, error) {
	node := NodeConfig{Line: n.Line}
	pairs, err := mappingPairs(n)
	if err != nil {
		return node, err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "id":
			node.ID, err = scalarString(kv.val)
		case "prompt":
			node.Prompt, err = scalarString(kv.val)
		case "system_prompt":
			node.SystemPrompt, err = scalarString(kv.val)
		case "inputs":
			inputPairs, perr := mappingPairs(kv.val)
			if perr != nil {
				return node, perr
			}
			for _, ip := range inputPairs {
				tmpl, terr := scalarString(ip.val)
				if terr != nil {
					return node, terr
				}
				node.Inputs = append(node.Inputs, InputMapping{Name: ip.key, Template: tmpl})
			}
		case "outputs":
			node.Outputs, err = stringList(kv.val)
		case "output_schema":
			t, terr := decodeOutputSchema(kv.val)
			if terr != nil {
				return node, terr
			}
			node.OutputSchema = &t
		case "tools":
			node.Tools, err = stringList(kv.val)
		case "llm":
			llm, lerr := decodeLLM(kv.val)
			if lerr != nil {
				return node, lerr
			}
			node.LLM = &llm
		case "log_payloads":
			node.LogPayloads, err = scalarBool(kv.val)
		default:
			err = loadErrf(kv.keyNode, "node: unknown key %q", kv.key)
		}
		if err != nil {
			return node, err
		}
	}
	if node.ID == "" {
		return node, loadErrf(n, "node: id is required")
	}
	if node.Prompt == "" {
		return node, loadErrf(n, "node %q: prompt is required", node.ID)
	}
	if len(node.Outputs) == 0 {
		return node, loadErrf(n, "node %q: outputs is required", node.ID)
	}
	return node, nil
}

// decodeOutputSchema accepts a scalar type string ("str") or a mapping of
// field name to type string or {type, description}.
func decodeOutputSchema(n *yaml.Node) (schema.Type, error) {
	if n.Kind == yaml.ScalarNode {
		str, err := scalarString(n)
		if err != nil {
			return schema.Type{}, err
		}
		t, err := schema.ParseType(str)
		if err != nil {
			return schema.Type{}, loadErrf(n, "output_schema: %v", err)
		}
		return t, nil
	}
	pairs, err := mappingPairs(n)
	if err != nil {
		return schema.Type{}, err
	}
	var fields []schema.Field
	for _, kv := range pairs {
		field := schema.Field{Name: kv.key}
		if kv.val.Kind == yaml.ScalarNode {
			str, err := scalarString(kv.val)
			if err != nil {
				return schema.Type{}, err
			}
			t, err := schema.ParseType(str)
			if err != nil {
				return schema.Type{}, loadErrf(kv.val, "output_schema field %q: %v", kv.key, err)
			}
			field.Type = t
		} else {
			sub, err := mappingPairs(kv.val)
			if err != nil {
				return schema.Type{}, err
			}
			for _, skv := range sub {
				switch skv.key {
				case "type":
					str, serr := scalarString(skv.val)
					if serr != nil {
						return schema.Type{}, serr
					}
					t, terr := schema.ParseType(str)
					if terr != nil {
						return schema.Type{}, loadErrf(skv.val, "output_schema field %q: %v", kv.key, terr)
					}
					field.Type = t
				case "description":
					str, serr := scalarString(skv.val)
					if serr != nil {
						return schema.Type{}, serr
					}
					field.Description = str
				default:
					return schema.Type{}, loadErrf(skv.keyNode, "output_schema field %q: unknown key %q", kv.key, skv.key)
				}
			}
		}
		fields = append(fields, field)
	}
	return schema.Object(fields...), nil
}

func decodeEdges(n *yaml.Node, cfg *Config) error {
	items, err := sequenceItems(n)
	if err != nil {
		return err
	}
	for i, item := range items {
		edge, err := decodeEdge(item)
		if err != nil {
			return fmt.Errorf("edges[%d]: %w", i, err)
		}
		cfg.Edges = append(cfg.Edges, edge)
	}
	if len(cfg.Edges) == 0 {
		return loadErrf(n, "edges must declare at least one edge")
	}
	return nil
}

func decodeEdge(n *yaml.Node) (EdgeConfig, error) {
	edge := EdgeConfig{Line: n.Line}
	pairs, err := mappingPairs(n)
	if err != nil {
		return edge, err
	}

	var hasRoutes, hasLoop, hasParallel bool
	for _, kv := range pairs {
		switch kv.key {
		case "from":
			edge.From, err = scalarString(kv.val)
		case "to":
			edge.To, err = scalarString(kv.val)
		case "routes":
			hasRoutes = true
			edge.Routes, err = decodeRoutes(kv.val)
		case "default":
			edge.Default, err = scalarString(kv.val)
		case "loop":
			hasLoop = true
			edge.Loop, err = decodeLoop(kv.val)
		case "parallel":
			hasParallel = true
			edge.Parallel, err = decodeParallel(kv.val)
		default:
			err = loadErrf(kv.keyNode, "unknown edge key %q", kv.key)
		}
		if err != nil {
			return edge, err
		}
	}

	if edge.From == "" {
		return edge, loadErrf(n, "edge: from is required")
	}

	switch {
	case hasRoutes && (hasLoop || hasParallel), hasLoop && hasParallel:
		return edge, loadErrf(n, "edge: routes, loop, and parallel are mutually exclusive")
	case hasRoutes:
		edge.Kind = EdgeConditional
		if edge.To != "" {
			return edge, loadErrf(n, "conditional edge: use routes/default, not to")
		}
		if edge.Default == "" {
			return edge, loadErrf(n, "conditional edge from %q: default is required", edge.From)
		}
	case hasLoop:
		edge.Kind = EdgeLoop
		if edge.To == "" {
			return edge, loadErrf(n, "loop edge from %q: to is required", edge.From)
		}
	case hasParallel:
		edge.Kind = EdgeParallel
		if edge.To == "" {
			return edge, loadErrf(n, "parallel edge from %q: to is required", edge.From)
		}
	default:
		edge.Kind = EdgeLinear
		if edge.To == "" {
			return edge, loadErrf(n, "edge from %q: to is required", edge.From)
		}
	}
	return edge, nil
}

func decodeRoutes(n *yaml.Node) ([]Route, error) {
	items, err := sequenceItems(n)
	if err != nil {
		return nil, err
	}
	var routes []Route
	for _, item := range items {
		pairs, err := mappingPairs(item)
		if err != nil {
			return nil, err
		}
		var route Route
		for _, kv := range pairs {
			switch kv.key {
			case "condition":
				route.Condition, err = scalarString(kv.val)
			case "to":
				route.To, err = scalarString(kv.val)
			default:
				err = loadErrf(kv.keyNode, "route: unknown key %q", kv.key)
			}
			if err != nil {
				return nil, err
			}
		}
		if route.Condition == "" || route.To == "" {
			return nil, loadErrf(item, "route: condition and to are required")
		}
		routes = append(routes, route)
	}
	if len(routes) == 0 {
		return nil, loadErrf(n, "routes must declare at least one route")
	}
	return routes, nil
}

func decodeLoop(n *yaml.Node) (*LoopSpec, error) {
	pairs, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	spec := &LoopSpec{}
	for _, kv := range pairs {
		switch kv.key {
		case "condition":
			spec.Condition, err = scalarString(kv.val)
		case "max_iterations":
			spec.MaxIterations, err = scalarInt(kv.val)
		default:
			err = loadErrf(kv.keyNode, "loop: unknown key %q", kv.key)
		}
		if err != nil {
			return nil, err
		}
	}
	if spec.Condition == "" {
		return nil, loadErrf(n, "loop: condition is required")
	}
	return spec, nil
}

func decodeParallel(n *yaml.Node) (*ParallelSpec, error) {
	pairs, err := mappingPairs(n)
	if err != nil {
		return nil, err
	}
	spec := &ParallelSpec{}
	for _, kv := range pairs {
		var str string
		switch kv.key {
		case "items":
			str, err = scalarString(kv.val)
			spec.ItemsField = stripStatePrefix(str)
		case "collect":
			str, err = scalarString(kv.val)
			spec.CollectField = stripStatePrefix(str)
		case "each":
			str, err = scalarString(kv.val)
			spec.EachField = stripStatePrefix(str)
		default:
			err = loadErrf(kv.keyNode, "parallel: unknown key %q", kv.key)
		}
		if err != nil {
			return nil, err
		}
	}
	if spec.ItemsField == "" || spec.CollectField == "" || spec.EachField == "" {
		return nil, loadErrf(n, "parallel: items, collect, and each are required")
	}
	return spec, nil
}

func decodeLLM(n *yaml.Node) (LLMConfig, error) {
	var cfg LLMConfig
	pairs, err := mappingPairs(n)
	if err != nil {
		return cfg, err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "provider":
			cfg.Provider, err = scalarString(kv.val)
		case "model":
			cfg.Model, err = scalarString(kv.val)
		case "temperature":
			var f float64
			if err = kv.val.Decode(&f); err != nil {
				err = loadErrf(kv.val, "llm.temperature: %v", err)
			} else {
				cfg.Temperature = &f
			}
		case "max_tokens":
			cfg.MaxTokens, err = scalarInt(kv.val)
		case "top_p":
			var f float64
			if err = kv.val.Decode(&f); err != nil {
				err = loadErrf(kv.val, "llm.top_p: %v", err)
			} else {
				cfg.TopP = &f
			}
		case "api_base":
			cfg.APIBase, err = scalarString(kv.val)
		default:
			err = loadErrf(kv.keyNode, "llm: unknown key %q", kv.key)
		}
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func decodeSettings(n *yaml.Node, cfg *Config) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "llm":
			cfg.Settings.LLM, err = decodeLLM(kv.val)
		case "execution":
			err = decodeExecution(kv.val, &cfg.Settings.Execution)
		case "observability":
			err = decodeObservability(kv.val, &cfg.Settings.Observability)
		case "storage":
			err = decodeStorage(kv.val, &cfg.Settings.Storage)
		default:
			err = loadErrf(kv.keyNode, "config: unknown key %q", kv.key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeExecution(n *yaml.Node, out *ExecutionConfig) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "timeout_seconds":
			out.TimeoutSeconds, err = scalarInt(kv.val)
		case "max_retries":
			out.MaxRetries, err = scalarInt(kv.val)
		case "parallel_max_concurrency":
			out.ParallelMaxConcurrency, err = scalarInt(kv.val)
		case "parallel_failure_policy":
			str, serr := scalarString(kv.val)
			if serr != nil {
				return serr
			}
			if str != FailFast && str != CollectErrors {
				return loadErrf(kv.val, "parallel_failure_policy must be %q or %q", FailFast, CollectErrors)
			}
			out.ParallelFailurePolicy = str
		default:
			err = loadErrf(kv.keyNode, "config.execution: unknown key %q", kv.key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeObservability(n *yaml.Node, out *ObservabilityConfig) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "enabled":
			out.Enabled, err = scalarBool(kv.val)
		case "tracking_uri":
			out.TrackingURI, err = scalarString(kv.val)
		case "experiment_name":
			out.ExperimentName, err = scalarString(kv.val)
		case "async_logging":
			out.AsyncLogging, err = scalarBool(kv.val)
		case "artifact_level":
			str, serr := scalarString(kv.val)
			if serr != nil {
				return serr
			}
			switch str {
			case "minimal", "standard", "full":
				out.ArtifactLevel = str
			default:
				return loadErrf(kv.val, "artifact_level must be minimal, standard, or full")
			}
		default:
			err = loadErrf(kv.keyNode, "config.observability: unknown key %q", kv.key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeStorage(n *yaml.Node, out *StorageConfig) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		switch kv.key {
		case "backend":
			str, serr := scalarString(kv.val)
			if serr != nil {
				return serr
			}
			if str != "sqlite" && str != "postgres" {
				return loadErrf(kv.val, "storage.backend must be sqlite or postgres")
			}
			out.Backend = str
		case "url":
			out.URL, err = scalarString(kv.val)
		case "path":
			out.Path, err = scalarString(kv.val)
		default:
			err = loadErrf(kv.keyNode, "config.storage: unknown key %q", kv.key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ---- yaml.Node helpers ----

type pair struct {
	key     string
	keyNode *yaml.Node
	val     *yaml.Node
}

func mappingPairs(n *yaml.Node) ([]pair, error) {
	n = deref(n)
	if n.Kind != yaml.MappingNode {
		return nil, loadErrf(n, "expected a mapping")
	}
	pairs := make([]pair, 0, len(n.Content)/2)
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if k.Kind != yaml.ScalarNode {
			return nil, loadErrf(k, "expected a string key")
		}
		// yaml.v3 only rejects duplicates when decoding into maps, not
		// into nodes, so the check lives here
		if seen[k.Value] {
			return nil, loadErrf(k, "duplicate key %q", k.Value)
		}
		seen[k.Value] = true
		pairs = append(pairs, pair{key: k.Value, keyNode: k, val: n.Content[i+1]})
	}
	return pairs, nil
}

func sequenceItems(n *yaml.Node) ([]*yaml.Node, error) {
	n = deref(n)
	if n.Kind != yaml.SequenceNode {
		return nil, loadErrf(n, "expected a sequence")
	}
	return n.Content, nil
}

func scalarString(n *yaml.Node) (string, error) {
	n = deref(n)
	if n.Kind != yaml.ScalarNode {
		return "", loadErrf(n, "expected a string")
	}
	return n.Value, nil
}

func scalarBool(n *yaml.Node) (bool, error) {
	var b bool
	if err := deref(n).Decode(&b); err != nil {
		return false, loadErrf(n, "expected a bool: %v", err)
	}
	return b, nil
}

func scalarInt(n *yaml.Node) (int, error) {
	var i int
	if err := deref(n).Decode(&i); err != nil {
		return 0, loadErrf(n, "expected an integer: %v", err)
	}
	return i, nil
}

func deref(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return n.Alias
	}
	return n
}

func stringList(n *yaml.Node) ([]string, error) {
	items, err := sequenceItems(n)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := scalarString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func stripStatePrefix(s string) string {
	const prefix = "state."
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

// normalizeYAML converts yaml.v3's map[string]any values recursively so the
// rest of the runtime sees the same shapes JSON decoding would produce.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
