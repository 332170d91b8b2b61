package workflow

import (
	"fmt"
	"strings"

	"github.com/lyzr/graphflow/condition"
	"github.com/lyzr/graphflow/schema"
	"github.com/lyzr/graphflow/state"
	"github.com/lyzr/graphflow/template"
)

// ValidationError is one semantic problem found in a loaded config.
type ValidationError struct {
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	if e.Suggestion != "" {
		msg += ". " + e.Suggestion
	}
	return msg
}

// ValidationErrors collects every problem found in one pass, so users never
// need a second run to discover the next error.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("workflow validation failed with %d error(s):\n  %s", len(e), strings.Join(msgs, "\n  "))
}

// Validate runs the semantic checks on a loaded config: edge endpoints,
// per-kind edge invariants, reachability/termination/acyclicity, output and
// state alignment, template placeholders, and tool resolution. toolNames is
// the registry's vocabulary; pass nil to skip tool checks (validate-only
// tooling without a registry). Validate is pure and idempotent.
func Validate(cfg *Config, toolNames []string) error {
	v := &validator{cfg: cfg, toolNames: toolNames}
	v.run()
	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

type validator struct {
	cfg       *Config
	toolNames []string
	errs      ValidationErrors
}

func (v *validator) addf(kind, path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) addSuggest(kind, path, message, suggestion string) {
	v.errs = append(v.errs, ValidationError{Kind: kind, Path: path, Message: message, Suggestion: suggestion})
}

func (v *validator) run() {
	v.checkStateFields()
	v.checkNodeIDs()
	v.checkEdgeEndpoints()
	v.checkEdgeInvariants()
	v.checkGraphShape()
	v.checkOutputs()
	v.checkTemplates()
	v.checkTools()
}

// ---- 0. state field invariants ----

func (v *validator) checkStateFields() {
	seen := map[string]bool{}
	for _, f := range v.cfg.State {
		path := fmt.Sprintf("state.fields.%s", f.Name)
		if seen[f.Name] {
			v.addf("state", path, "duplicate field")
		}
		seen[f.Name] = true
		if strings.HasPrefix(f.Name, "__") {
			v.addf("state", path, "field names starting with __ are reserved for the engine")
		}
		if f.HasDefault {
			if err := f.Type.CheckValue(f.Default); err != nil {
				v.addf("state", path, "default does not match type %s: %v", f.Type, err)
			}
		}
		if f.Reducer == state.Append && f.Type.Kind != schema.KindList {
			v.addf("state", path, "append reducer requires a list type, got %s", f.Type)
		}
		if f.Reducer == state.SumInt && f.Type.Kind != schema.KindInt {
			v.addf("state", path, "sum reducer requires an int type, got %s", f.Type)
		}
	}
}

func (v *validator) checkNodeIDs() {
	seen := map[string]bool{}
	for i, n := range v.cfg.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == StartNode || n.ID == EndNode {
			v.addf("node", path, "node id %q is reserved", n.ID)
		}
		if seen[n.ID] {
			v.addf("node", path, "duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
}

// ---- 1. edge endpoints ----

func (v *validator) nodeExists(id string) bool {
	if id == StartNode || id == EndNode {
		return true
	}
	_, ok := v.cfg.Node(id)
	return ok
}

func (v *validator) checkEndpoint(path, id string) {
	if v.nodeExists(id) {
		return
	}
	suggestion := ""
	if hint := schema.Suggest(id, v.cfg.NodeIDs()); hint != "" {
		suggestion = fmt.Sprintf("Did you mean '%s'?", hint)
	}
	v.addSuggest("edge", path, fmt.Sprintf("unknown node '%s'", id), suggestion)
}

func (v *validator) checkEdgeEndpoints() {
	for i, e := range v.cfg.Edges {
		base := fmt.Sprintf("edges[%d]", i)
		v.checkEndpoint(base+".from", e.From)
		switch e.Kind {
		case EdgeConditional:
			for j, r := range e.Routes {
				v.checkEndpoint(fmt.Sprintf("%s.routes[%d].to", base, j), r.To)
			}
			v.checkEndpoint(base+".default", e.Default)
		default:
			v.checkEndpoint(base+".to", e.To)
		}
	}
}

// ---- 2. per-kind edge invariants ----

func (v *validator) checkEdgeInvariants() {
	startOut := 0
	routingOut := map[string]int{}
	loopOut := map[string]int{}
	for i, e := range v.cfg.Edges {
		base := fmt.Sprintf("edges[%d]", i)
		if e.From == StartNode {
			startOut++
			if e.Kind != EdgeLinear {
				v.addf("edge", base, "the START edge must be linear")
			}
		}
		if e.From == EndNode {
			v.addf("edge", base, "END must not have outgoing edges")
		}
		switch e.Kind {
		case EdgeLoop:
			loopOut[e.From]++
			v.checkLoopEdge(base, e)
		case EdgeParallel:
			routingOut[e.From]++
			v.checkParallelEdge(base, e)
		case EdgeConditional:
			routingOut[e.From]++
			v.checkConditionalEdge(base, e)
		default:
			routingOut[e.From]++
		}
	}
	if startOut != 1 {
		v.addf("edge", "edges", "START must have exactly one outgoing edge, found %d", startOut)
	}
	// one routing decision per node: a loop edge may sit alongside one
	// linear/conditional/parallel edge, nothing else
	for from, n := range routingOut {
		if from != StartNode && n > 1 {
			v.addf("edge", "edges", "node '%s' has %d outgoing edges; only one (plus an optional loop edge) is allowed", from, n)
		}
	}
	for from, n := range loopOut {
		if n > 1 {
			v.addf("edge", "edges", "node '%s' has %d loop edges; only one is allowed", from, n)
		}
	}
}

func (v *validator) compileCondition(path, src string) *condition.Expr {
	expr, err := condition.Compile(src)
	if err != nil {
		v.addf("condition", path, "%v", err)
		return nil
	}
	for _, field := range expr.Fields() {
		if _, ok := v.cfg.Field(field); !ok && !strings.HasPrefix(field, "__") {
			suggestion := ""
			if hint := schema.Suggest(field, v.cfg.FieldNames()); hint != "" {
				suggestion = fmt.Sprintf("Did you mean '%s'?", hint)
			}
			v.addSuggest("condition", path, fmt.Sprintf("condition references unknown state field '%s'", field), suggestion)
		}
	}
	return expr
}

func (v *validator) checkConditionalEdge(base string, e EdgeConfig) {
	for j, r := range e.Routes {
		v.compileCondition(fmt.Sprintf("%s.routes[%d].condition", base, j), r.Condition)
	}
}

func (v *validator) checkLoopEdge(base string, e EdgeConfig) {
	if e.Loop.MaxIterations < 0 {
		v.addf("edge", base+".loop.max_iterations", "must be >= 0, got %d", e.Loop.MaxIterations)
	}
	expr := v.compileCondition(base+".loop.condition", e.Loop.Condition)
	if expr == nil {
		return
	}

	// The termination condition must reference a field some node on the
	// loop body can write; otherwise the loop can never make progress.
	body := v.loopBody(e)
	writable := map[string]bool{}
	for id := range body {
		if n, ok := v.cfg.Node(id); ok {
			for _, out := range n.Outputs {
				writable[out] = true
			}
		}
	}
	references := false
	for _, f := range expr.Fields() {
		if writable[f] || strings.HasPrefix(f, "__") {
			references = true
			break
		}
	}
	if !references && len(body) > 0 {
		v.addf("edge", base+".loop.condition",
			"condition must reference at least one state field written by a node on the loop body")
	}
}

// loopBody returns the node ids reachable from the loop target that can
// reach the loop source, both inclusive.
func (v *validator) loopBody(e EdgeConfig) map[string]bool {
	succ := v.successors(false)
	fromTarget := reachable(e.To, succ)
	pred := invert(succ)
	toSource := reachable(e.From, pred)

	body := map[string]bool{}
	for id := range fromTarget {
		if toSource[id] {
			body[id] = true
		}
	}
	body[e.To] = true
	body[e.From] = true
	return body
}

func (v *validator) checkParallelEdge(base string, e EdgeConfig) {
	p := e.Parallel

	items, ok := v.cfg.Field(p.ItemsField)
	if !ok {
		v.addf("edge", base+".parallel.items", "unknown state field '%s'", p.ItemsField)
	} else if items.Type.Kind != schema.KindList {
		v.addf("edge", base+".parallel.items", "field '%s' must be a list, got %s", p.ItemsField, items.Type)
	}

	collect, ok := v.cfg.Field(p.CollectField)
	if !ok {
		v.addf("edge", base+".parallel.collect", "unknown state field '%s'", p.CollectField)
	} else {
		if collect.Type.Kind != schema.KindList {
			v.addf("edge", base+".parallel.collect", "field '%s' must be a list, got %s", p.CollectField, collect.Type)
		}
		if collect.Reducer != state.Append {
			v.addf("edge", base+".parallel.collect", "field '%s' must use the append reducer", p.CollectField)
		}
	}

	each, ok := v.cfg.Field(p.EachField)
	if !ok {
		v.addf("edge", base+".parallel.each", "unknown state field '%s'", p.EachField)
	} else if items != nil && items.Type.Kind == schema.KindList && items.Type.Elem != nil {
		if !items.Type.Elem.AssignableTo(each.Type) {
			v.addf("edge", base+".parallel.each",
				"field '%s' (%s) cannot hold elements of '%s' (%s)", p.EachField, each.Type, p.ItemsField, items.Type)
		}
	}

	// Branch deltas contribute to the collect field only: the target must
	// declare exactly one output, either the collect field itself or a
	// single field projected into it. Extra outputs would be dropped at
	// the join, even when one of them is the collect field.
	if target, ok := v.cfg.Node(e.To); ok && len(target.Outputs) != 1 {
		v.addf("edge", base+".parallel",
			"branch node '%s' must declare exactly one output; writes outside '%s' are dropped at the join",
			e.To, p.CollectField)
	}
}

// ---- 3. graph shape ----

// successors builds the adjacency map; loop back edges are excluded when
// withLoops is false so cycle detection only permits explicit loops.
func (v *validator) successors(withLoops bool) map[string][]string {
	succ := map[string][]string{}
	for _, e := range v.cfg.Edges {
		switch e.Kind {
		case EdgeConditional:
			for _, r := range e.Routes {
				succ[e.From] = append(succ[e.From], r.To)
			}
			succ[e.From] = append(succ[e.From], e.Default)
		case EdgeLoop:
			if withLoops {
				succ[e.From] = append(succ[e.From], e.To)
			}
		default:
			succ[e.From] = append(succ[e.From], e.To)
		}
	}
	return succ
}

func reachable(start string, succ map[string][]string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range succ[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

func invert(succ map[string][]string) map[string][]string {
	pred := map[string][]string{}
	for from, tos := range succ {
		for _, to := range tos {
			pred[to] = append(pred[to], from)
		}
	}
	return pred
}

func (v *validator) checkGraphShape() {
	succ := v.successors(false)

	fromStart := reachable(StartNode, succ)
	pred := invert(succ)
	toEnd := reachable(EndNode, pred)

	for _, n := range v.cfg.Nodes {
		path := fmt.Sprintf("nodes.%s", n.ID)
		if !fromStart[n.ID] {
			v.addf("graph", path, "node is not reachable from START")
		}
		if !toEnd[n.ID] {
			v.addf("graph", path, "node cannot reach END")
		}
	}

	// Cycles are only legal through explicit loop edges, which are already
	// excluded from succ.
	if cyclic(succ) {
		v.addf("graph", "edges", "workflow contains a cycle without a loop edge")
	}
}

// cyclic runs a DFS with a recursion stack, as in any topological check.
func cyclic(succ map[string][]string) bool {
	visited := map[string]bool{}
	inStack := map[string]bool{}

	var visit func(string) bool
	visit = func(id string) bool {
		visited[id] = true
		inStack[id] = true
		for _, next := range succ[id] {
			if !visited[next] {
				if visit(next) {
					return true
				}
			} else if inStack[next] {
				return true
			}
		}
		inStack[id] = false
		return false
	}

	for id := range succ {
		if !visited[id] {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// ---- 4. output/state alignment ----

func (v *validator) checkOutputs() {
	for i, n := range v.cfg.Nodes {
		base := fmt.Sprintf("nodes[%d]", i)
		outputTypes := v.outputTypes(base, n)
		for _, out := range n.Outputs {
			path := fmt.Sprintf("%s.outputs.%s", base, out)
			field, ok := v.cfg.Field(out)
			if !ok {
				suggestion := ""
				if hint := schema.Suggest(out, v.cfg.FieldNames()); hint != "" {
					suggestion = fmt.Sprintf("Did you mean '%s'?", hint)
				}
				v.addSuggest("output", path, fmt.Sprintf("output '%s' is not a state field", out), suggestion)
				continue
			}
			if t, ok := outputTypes[out]; ok {
				if !t.AssignableTo(field.Type) {
					v.addf("output", path, "node returns %s but state field '%s' is %s", t, out, field.Type)
				}
			}
		}
	}
}

// outputTypes maps each declared output to the type the LLM will return for
// it, mirroring the output-model construction rules.
func (v *validator) outputTypes(base string, n NodeConfig) map[string]schema.Type {
	types := map[string]schema.Type{}
	if n.OutputSchema == nil {
		if len(n.Outputs) == 1 {
			types[n.Outputs[0]] = schema.String()
		} else {
			v.addf("output", base+".outputs", "multiple outputs require an output_schema")
		}
		return types
	}
	out := *n.OutputSchema
	if out.Kind != schema.KindObject {
		if len(n.Outputs) == 1 {
			types[n.Outputs[0]] = out
		} else {
			v.addf("output", base+".output_schema", "scalar output schema requires exactly one output")
		}
		return types
	}
	declared := map[string]bool{}
	for _, f := range out.Fields {
		if f.Type.Kind == schema.KindObject {
			v.addf("output", fmt.Sprintf("%s.output_schema.%s", base, f.Name), "nested objects in outputs are not supported")
		}
		declared[f.Name] = true
		types[f.Name] = f.Type
	}
	for _, o := range n.Outputs {
		if !declared[o] {
			v.addf("output", base+".output_schema", "output '%s' has no field in the output schema", o)
		}
	}
	return types
}

// ---- 5. template placeholders ----

func (v *validator) checkTemplates() {
	for i, n := range v.cfg.Nodes {
		base := fmt.Sprintf("nodes[%d]", i)

		inputNames := map[string]bool{}
		for _, in := range n.Inputs {
			inputNames[in.Name] = true
		}

		// input templates resolve against state only
		for _, in := range n.Inputs {
			for _, ref := range template.Placeholders(in.Template) {
				if _, ok := v.cfg.Field(ref); !ok {
					v.suggestField(fmt.Sprintf("%s.inputs.%s", base, in.Name), ref, nil)
				}
			}
		}

		// prompt templates resolve against state merged with node inputs
		for _, tmplKind := range []struct{ path, text string }{
			{base + ".prompt", n.Prompt},
			{base + ".system_prompt", n.SystemPrompt},
		} {
			for _, ref := range template.Placeholders(tmplKind.text) {
				if inputNames[ref] {
					continue
				}
				if _, ok := v.cfg.Field(ref); !ok {
					v.suggestField(tmplKind.path, ref, inputNames)
				}
			}
		}
	}
}

func (v *validator) suggestField(path, ref string, extra map[string]bool) {
	candidates := v.cfg.FieldNames()
	for name := range extra {
		candidates = append(candidates, name)
	}
	suggestion := ""
	if hint := schema.Suggest(ref, candidates); hint != "" {
		suggestion = fmt.Sprintf("Did you mean '%s'?", hint)
	}
	v.addSuggest("template", path,
		fmt.Sprintf("placeholder '{%s}' does not reference a declared state field or node input", ref), suggestion)
}

// ---- 6. tools ----

func (v *validator) checkTools() {
	if v.toolNames == nil {
		return
	}
	known := map[string]bool{}
	for _, name := range v.toolNames {
		known[name] = true
	}
	for i, n := range v.cfg.Nodes {
		for _, tool := range n.Tools {
			if known[tool] {
				continue
			}
			path := fmt.Sprintf("nodes[%d].tools.%s", i, tool)
			suggestion := ""
			if hint := schema.Suggest(tool, v.toolNames); hint != "" {
				suggestion = fmt.Sprintf("Did you mean '%s'?", hint)
			}
			v.addSuggest("tool", path,
				fmt.Sprintf("unknown tool '%s' (registered: %s)", tool, strings.Join(v.toolNames, ", ")), suggestion)
		}
	}
}
