package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, doc string) *Config {
	t.Helper()
	cfg, err := Load([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func findError(errs ValidationErrors, kind string) (ValidationError, bool) {
	for _, e := range errs {
		if e.Kind == kind {
			return e, true
		}
	}
	return ValidationError{}, false
}

func TestValidatePipelineOK(t *testing.T) {
	cfg := mustLoad(t, pipelineDoc)
	require.NoError(t, Validate(cfg, nil))
}

func TestValidateUnknownNodeSuggestion(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: typo
state:
  fields:
    topic:
      type: str
      required: true
    article:
      type: str
nodes:
  - id: write
    prompt: "Write about {topic}."
    outputs: [article]
edges:
  - from: START
    to: write
  - from: write
    to: writee
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)

	found := false
	for _, e := range errs {
		if e.Path == "edges[1].to" {
			found = true
			assert.Equal(t, "unknown node 'writee'", e.Message)
			assert.Equal(t, "Did you mean 'write'?", e.Suggestion)
		}
	}
	assert.True(t, found, "expected an endpoint error for edges[1].to")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: broken
state:
  fields:
    topic:
      type: str
      required: true
nodes:
  - id: write
    prompt: "Write about {topci}."
    outputs: [articel]
edges:
  - from: START
    to: write
  - from: write
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.GreaterOrEqual(t, len(errs), 2)

	out, ok := findError(errs, "output")
	require.True(t, ok)
	assert.Contains(t, out.Message, "'articel' is not a state field")

	tmpl, ok := findError(errs, "template")
	require.True(t, ok)
	assert.Equal(t, "Did you mean 'topic'?", tmpl.Suggestion)
}

func TestValidateGraphShape(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: shapes
state:
  fields:
    a:
      type: str
      default: ""
nodes:
  - id: one
    prompt: p
    outputs: [a]
  - id: orphan
    prompt: p
    outputs: [a]
edges:
  - from: START
    to: one
  - from: one
    to: END
  - from: orphan
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)

	found := false
	for _, e := range errs {
		if e.Path == "nodes.orphan" {
			found = true
			assert.Contains(t, e.Message, "not reachable from START")
		}
	}
	assert.True(t, found)
}

func TestValidateCycleWithoutLoopEdge(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: cycle
state:
  fields:
    a:
      type: str
      default: ""
nodes:
  - id: one
    prompt: p
    outputs: [a]
  - id: two
    prompt: p
    outputs: [a]
edges:
  - from: START
    to: one
  - from: one
    to: two
  - from: two
    to: one
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle without a loop edge")
}

func TestValidateLoopEdgeCycleAllowed(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: retry-loop
state:
  fields:
    topic:
      type: str
      required: true
    article:
      type: str
      default: ""
    score:
      type: float
      default: 0.0
nodes:
  - id: write
    prompt: "Write about {topic}."
    outputs: [article]
  - id: judge
    prompt: "Score {article}."
    outputs: [score]
    output_schema: float
edges:
  - from: START
    to: write
  - from: write
    to: judge
  - from: judge
    to: write
    loop:
      condition: "state.score < 0.8"
      max_iterations: 3
  - from: judge
    to: END
`
	cfg := mustLoad(t, doc)
	require.NoError(t, Validate(cfg, nil))
}

func TestValidateLoopConditionMustBeWritable(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: stuck-loop
state:
  fields:
    topic:
      type: str
      required: true
    article:
      type: str
      default: ""
nodes:
  - id: write
    prompt: "Write about {topic}."
    outputs: [article]
edges:
  - from: START
    to: write
  - from: write
    to: write
    loop:
      condition: "state.topic != \"done\""
      max_iterations: 3
  - from: write
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "written by a node on the loop body")
}

func TestValidateParallelEdge(t *testing.T) {
	base := `
schema_version: "1.0"
flow:
  name: fanout
state:
  fields:
    topic:
      type: str
      required: true
    chapters:
      type: list[str]
      default: []
    chapter:
      type: str
    page:
      type: str
    pages:
      type: list[str]
      default: []
      %s
nodes:
  - id: plan
    prompt: "Outline chapters for {topic}."
    outputs: [chapters]
    output_schema: list[str]
  - id: expand
    prompt: "Expand {chapter}."
    outputs: [page]
edges:
  - from: START
    to: plan
  - from: plan
    to: expand
    parallel:
      items: state.chapters
      each: state.chapter
      collect: state.pages
  - from: expand
    to: END
`
	t.Run("ok with implicit append", func(t *testing.T) {
		cfg := mustLoad(t, fmt.Sprintf(base, "description: collected pages"))
		require.NoError(t, Validate(cfg, nil))
	})

	t.Run("explicit replace reducer rejected", func(t *testing.T) {
		cfg := mustLoad(t, fmt.Sprintf(base, "reducer: replace"))
		err := Validate(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must use the append reducer")
	})
}

func TestValidateParallelTargetContribution(t *testing.T) {
	base := `
schema_version: "1.0"
flow:
  name: fanout
state:
  fields:
    topic:
      type: str
      required: true
    chapters:
      type: list[str]
      default: []
    chapter:
      type: str
    title:
      type: str
    page:
      type: str
    pages:
      type: list[str]
      default: []
nodes:
  - id: plan
    prompt: "Outline chapters for {topic}."
    outputs: [chapters]
    output_schema: list[str]
  - id: expand
    prompt: "Expand {chapter}."
    outputs: [%s]
    output_schema:
%s
edges:
  - from: START
    to: plan
  - from: plan
    to: expand
    parallel:
      items: state.chapters
      each: state.chapter
      collect: state.pages
  - from: expand
    to: END
`
	cases := []struct {
		name    string
		outputs string
		schema  string
		wantErr bool
	}{
		{"single projected output", "page", "      page: str", false},
		{"single collect output", "pages", "      pages: list[str]", false},
		{"two outputs neither collect", "page, title", "      page: str\n      title: str", true},
		// writing the collect field does not excuse extra outputs: the
		// extras never survive the join
		{"collect plus extra output", "pages, title", "      pages: list[str]\n      title: str", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := mustLoad(t, fmt.Sprintf(base, tc.outputs, tc.schema))
			err := Validate(cfg, nil)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must declare exactly one output")
		})
	}
}

func TestValidateToolResolution(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: tooluser
state:
  fields:
    q:
      type: str
      required: true
    answer:
      type: str
nodes:
  - id: research
    prompt: "Answer {q}."
    outputs: [answer]
    tools: [web_serach]
edges:
  - from: START
    to: research
  - from: research
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, []string{"web_search", "calculator"})
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	tool, ok := findError(errs, "tool")
	require.True(t, ok)
	assert.Contains(t, tool.Message, "unknown tool 'web_serach'")
	assert.Equal(t, "Did you mean 'web_search'?", tool.Suggestion)

	// nil registry skips the check entirely
	require.NoError(t, Validate(cfg, nil))
}

func TestValidateOutputTypeMismatch(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: mismatch
state:
  fields:
    topic:
      type: str
      required: true
    score:
      type: float
      default: 0.0
nodes:
  - id: judge
    prompt: "Score {topic}."
    outputs: [score]
    output_schema: str
edges:
  - from: START
    to: judge
  - from: judge
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node returns str but state field 'score' is float")
}

func TestValidateReservedStateFields(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: reserved
state:
  fields:
    __iter_write:
      type: int
      default: 0
    a:
      type: str
      default: ""
nodes:
  - id: n
    prompt: p
    outputs: [a]
edges:
  - from: START
    to: n
  - from: n
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved for the engine")
}

func TestValidateStartAndEndDegree(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: twostarts
state:
  fields:
    a:
      type: str
      default: ""
nodes:
  - id: one
    prompt: p
    outputs: [a]
  - id: two
    prompt: p
    outputs: [a]
edges:
  - from: START
    to: one
  - from: START
    to: two
  - from: one
    to: END
  - from: two
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "START must have exactly one outgoing edge, found 2")
}

func TestValidateDefaultTypeChecked(t *testing.T) {
	doc := `
schema_version: "1.0"
flow:
  name: baddefault
state:
  fields:
    count:
      type: int
      default: "zero"
    a:
      type: str
      default: ""
nodes:
  - id: n
    prompt: p
    outputs: [a]
edges:
  - from: START
    to: n
  - from: n
    to: END
`
	cfg := mustLoad(t, doc)
	err := Validate(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default does not match type int")
}
