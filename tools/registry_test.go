package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/graphflow/schema"
)

func echoTool(builds *atomic.Int32) Factory {
	return func() (Tool, error) {
		builds.Add(1)
		return &Func{
			ToolName: "echo",
			ToolDesc: "Return the input text unchanged.",
			Schema: schema.Object(
				schema.Field{Name: "text", Type: schema.String()},
			),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				return args["text"], nil
			},
		}, nil
	}
}

func TestRegistryLazyInstantiation(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry()
	require.NoError(t, r.Register("echo", echoTool(&builds)))

	// registering does not instantiate
	assert.Equal(t, int32(0), builds.Load())

	tool, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Name())

	_, err = r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())
}

func TestRegistryNotFound(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry()
	require.NoError(t, r.Register("echo", echoTool(&builds)))
	require.NoError(t, r.Register("web_search", func() (Tool, error) {
		return nil, errors.New("no api key")
	}))

	_, err := r.Get("web_serach")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"echo", "web_search"}, notFound.Registered)
	assert.Contains(t, err.Error(), `Did you mean "web_search"?`)
}

func TestRegistryDuplicate(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry()
	require.NoError(t, r.Register("echo", echoTool(&builds)))
	require.Error(t, r.Register("echo", echoTool(&builds)))
}

func TestRegistryFactoryErrorPropagates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("broken", func() (Tool, error) {
		return nil, errors.New("no api key")
	}))

	_, err := r.Get("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no api key")

	// the error is sticky, not retried per call
	_, err2 := r.Get("broken")
	assert.Equal(t, err.Error(), err2.Error())
}

func TestRegistryInvokeValidatesArgs(t *testing.T) {
	var builds atomic.Int32
	r := NewRegistry()
	require.NoError(t, r.Register("echo", echoTool(&builds)))

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.Invoke(context.Background(), "echo", map[string]any{"text": 42})
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "echo", argErr.Tool)

	_, err = r.Invoke(context.Background(), "echo", map[string]any{"text": "hi", "extra": true})
	require.ErrorAs(t, err, &argErr)
}

func TestDefaultRegistryBuiltins(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"current_time", "http_fetch"}, r.Names())

	out, err := r.Invoke(context.Background(), "current_time", map[string]any{})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
