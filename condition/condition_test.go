package condition

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEval(t *testing.T, src string, state map[string]any) bool {
	t.Helper()
	expr, err := Compile(src)
	require.NoError(t, err)
	got, err := expr.Eval(state)
	require.NoError(t, err)
	return got
}

func TestEval(t *testing.T) {
	state := map[string]any{
		"score":   0.9,
		"retries": 2,
		"result":  "fail",
		"done":    false,
		"doc":     map[string]any{"title": "intro", "pages": 10},
	}

	tests := []struct {
		src  string
		want bool
	}{
		{`state.score > 0.8`, true},
		{`state.score >= 0.9`, true},
		{`state.score < 0.5`, false},
		{`state.retries < 3`, true},
		{`state.retries != 2`, false},
		{`state.result == "fail"`, true},
		{`state.result != "fail"`, false},
		{`state.done == false`, true},
		{`not state.done`, true},
		{`state.score > 0.8 and state.retries < 3`, true},
		{`state.score > 0.95 or state.result == "fail"`, true},
		{`not (state.score > 0.95) and state.retries < 3`, true},
		{`state.doc.title == "intro"`, true},
		{`state.doc.pages >= 10`, true},
		{`true`, true},
		{`false or true`, true},
		{`"a" < "b"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.src, state))
		})
	}
}

func TestEvalDeterministic(t *testing.T) {
	expr, err := Compile(`state.score > 0.8 and state.result == "ok"`)
	require.NoError(t, err)
	state := map[string]any{"score": 0.9, "result": "ok"}
	for i := 0; i < 50; i++ {
		got, err := expr.Eval(state)
		require.NoError(t, err)
		assert.True(t, got)
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		``,
		`state.`,
		`state`,
		`score > 1`,          // bare identifier
		`state.score >`,      // dangling operator
		`state.score > > 1`,
		`(state.score > 1`,   // unbalanced paren
		`state.score = 1`,    // single '=' is not an operator
		`f(state.score)`,     // no function calls
		`state.items[0]`,     // no subscripting
		`state.a + 1 > 2`,    // no arithmetic
		`and state.done`,
	}
	for _, src := range bad {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			assert.Error(t, err)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	state := map[string]any{"score": 0.9, "name": "x"}

	for _, src := range []string{
		`state.missing > 1`,
		`state.score == "high"`,
		`state.name and true`,
		`state.score`,
	} {
		t.Run(src, func(t *testing.T) {
			expr, err := Compile(src)
			require.NoError(t, err)
			_, err = expr.Eval(state)
			assert.Error(t, err)
		})
	}
}

func TestFields(t *testing.T) {
	expr, err := Compile(`state.score > 0.5 and (state.result == "ok" or not state.done) and state.score < 1`)
	require.NoError(t, err)
	assert.Equal(t, []string{"score", "result", "done"}, expr.Fields())
}

// Property: arbitrary strings over the grammar's alphabet either compile to a
// closed AST or return an error; Compile and Eval never panic and never
// execute anything outside the interpreter.
func TestCompileFuzzNoPanic(t *testing.T) {
	alphabet := []rune(`state.score><=!"0123456789 andort()_`)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		n := rng.Intn(40)
		buf := make([]rune, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		src := string(buf)
		expr, err := Compile(src)
		if err != nil {
			continue
		}
		// compiled: evaluation may error but must not panic
		_, _ = expr.Eval(map[string]any{"score": 1.0})
	}
}
