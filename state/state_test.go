package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/graphflow/schema"
)

func articleSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]FieldSpec{
		{Name: "topic", Type: schema.String(), Required: true},
		{Name: "article", Type: schema.String(), Default: "", HasDefault: true},
		{Name: "pages", Type: schema.List(schema.String()), Reducer: Append, Default: []any{}, HasDefault: true},
		{Name: "attempts", Type: schema.Int(), Reducer: SumInt, Default: 0, HasDefault: true},
		{Name: "note", Type: schema.String()},
	})
	require.NoError(t, err)
	return s
}

func TestMake(t *testing.T) {
	s := articleSchema(t)

	st, err := s.Make(map[string]any{"topic": "dogs"})
	require.NoError(t, err)
	assert.Equal(t, "dogs", st.Value("topic"))
	assert.Equal(t, "", st.Value("article"))
	assert.Nil(t, st.Value("note")) // optional without default is nullable
}

func TestMakeErrors(t *testing.T) {
	s := articleSchema(t)

	_, err := s.Make(map[string]any{})
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "topic", initErr.Field)

	_, err = s.Make(map[string]any{"topic": 42})
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "topic", initErr.Field)

	_, err = s.Make(map[string]any{"topic": "dogs", "topicc": "x"})
	require.ErrorAs(t, err, &initErr)
	assert.Contains(t, initErr.Msg, `Did you mean "topic"?`)
}

func TestApplyCopyOnWrite(t *testing.T) {
	s := articleSchema(t)
	st, err := s.Make(map[string]any{"topic": "dogs"})
	require.NoError(t, err)

	before := st.Snapshot()

	next, err := st.Apply(Delta{"article": "A1"})
	require.NoError(t, err)

	// the input state is not mutated
	assert.Equal(t, before, st.Snapshot())
	assert.Equal(t, "A1", next.Value("article"))
	assert.Equal(t, "", st.Value("article"))
}

func TestApplyReducers(t *testing.T) {
	s := articleSchema(t)
	st, err := s.Make(map[string]any{"topic": "dogs"})
	require.NoError(t, err)

	st, err = st.Apply(Delta{"pages": "P_a", "attempts": 1})
	require.NoError(t, err)
	st, err = st.Apply(Delta{"pages": []any{"P_b", "P_c"}, "attempts": 2})
	require.NoError(t, err)

	assert.Equal(t, []any{"P_a", "P_b", "P_c"}, st.Value("pages"))
	assert.Equal(t, 3, st.Value("attempts"))
}

func TestApplyRejectsUnknownAndWrongType(t *testing.T) {
	s := articleSchema(t)
	st, err := s.Make(map[string]any{"topic": "dogs"})
	require.NoError(t, err)

	_, err = st.Apply(Delta{"nope": 1})
	require.Error(t, err)

	_, err = st.Apply(Delta{"article": 42})
	require.Error(t, err)
}

func TestWithHidden(t *testing.T) {
	s := articleSchema(t)
	ext, err := s.WithHidden(FieldSpec{Name: "__iter_attempt", Type: schema.Int(), Default: 0, HasDefault: true})
	require.NoError(t, err)

	st, err := ext.Make(map[string]any{"topic": "dogs"})
	require.NoError(t, err)

	assert.Contains(t, st.Snapshot(), "__iter_attempt")
	assert.NotContains(t, st.VisibleSnapshot(), "__iter_attempt")
	assert.NotContains(t, ext.VisibleNames(), "__iter_attempt")
}
