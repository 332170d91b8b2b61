package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lyzr/graphflow/schema"
)

const fetchBodyLimit = 1 << 20 // 1 MiB keeps tool results inside context budgets

// builtins is the fixed startup tool set. Custom tools are added with
// Registry.Register before graph build.
func builtins() map[string]Factory {
	return map[string]Factory{
		"http_fetch":   newHTTPFetch,
		"current_time": newCurrentTime,
	}
}

func newHTTPFetch() (Tool, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	return &Func{
		ToolName: "http_fetch",
		ToolDesc: "Fetch a URL over HTTP GET and return the response body as text.",
		Schema: schema.Object(
			schema.Field{Name: "url", Type: schema.String(), Description: "absolute http(s) URL to fetch"},
		),
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			url, _ := args["url"].(string)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", url, err)
			}
			return string(body), nil
		},
	}, nil
}

func newCurrentTime() (Tool, error) {
	loc := time.Local
	if tz := os.Getenv("TZ"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return &Func{
		ToolName: "current_time",
		ToolDesc: "Return the current date and time in RFC 3339 format.",
		Schema:   schema.Object(),
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return time.Now().In(loc).Format(time.RFC3339), nil
		},
	}, nil
}
