// Command graphflow runs, validates, and serves declarative LLM workflows.
//
// Usage:
//
//	graphflow run workflow.yaml --input topic="go concurrency"
//	graphflow validate workflow.yaml
//	graphflow serve
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lyzr/graphflow/common/cache"
	"github.com/lyzr/graphflow/common/config"
	"github.com/lyzr/graphflow/common/logger"
	commonserver "github.com/lyzr/graphflow/common/server"
	"github.com/lyzr/graphflow/engine"
	"github.com/lyzr/graphflow/server"
	"github.com/lyzr/graphflow/store"
	"github.com/lyzr/graphflow/tools"
	"github.com/lyzr/graphflow/trace"
	"github.com/lyzr/graphflow/workflow"

	_ "github.com/lyzr/graphflow/llm/providers/ollama"
	_ "github.com/lyzr/graphflow/llm/providers/openai"
)

// Exit codes.
const (
	exitOK              = 0
	exitRunFailed       = 1
	exitInvalidWorkflow = 2
	exitUsage           = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "validate":
		os.Exit(validateCmd(os.Args[2:]))
	case "serve":
		os.Exit(serveCmd(os.Args[2:]))
	case "help", "-h", "--help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `graphflow — declarative LLM workflow runtime

Commands:
  run <workflow.yaml>       run a workflow to completion
  validate <workflow.yaml>  check a workflow without running it
  serve                     start the REST API server

Run flags:
  --input key=value         bind one workflow input (repeatable)
  --inputs-json '{...}'     bind inputs from a JSON object
  --log-level, --log-format logging controls

Serve is configured through GRAPHFLOW_* environment variables.
`)
}

// inputFlags collects repeated --input key=value pairs. Values that parse
// as JSON bind typed; everything else binds as a string.
type inputFlags map[string]any

func (f inputFlags) String() string { return "" }

func (f inputFlags) Set(raw string) error {
	key, val, ok := strings.Cut(raw, "=")
	if !ok || key == "" {
		return fmt.Errorf("input %q: want key=value", raw)
	}
	var parsed any
	if err := json.Unmarshal([]byte(val), &parsed); err != nil {
		parsed = val
	}
	f[key] = parsed
	return nil
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	inputs := inputFlags{}
	fs.Var(inputs, "input", "workflow input as key=value (repeatable)")
	inputsJSON := fs.String("inputs-json", "", "workflow inputs as a JSON object")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	logFormat := fs.String("log-format", "console", "console|json")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "run: exactly one workflow file is required")
		return exitUsage
	}
	if *inputsJSON != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(*inputsJSON), &extra); err != nil {
			fmt.Fprintf(os.Stderr, "run: --inputs-json: %v\n", err)
			return exitUsage
		}
		for k, v := range extra {
			if _, dup := inputs[k]; !dup {
				inputs[k] = v
			}
		}
	}

	log := logger.New(*logLevel, *logFormat)
	cfg, err := workflow.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitInvalidWorkflow
	}
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	ctx := context.Background()
	var opts []engine.RunnerOption
	opts = append(opts, engine.WithTracer(trace.New(cfg.Settings.Observability, log)))

	db, err := store.Open(ctx, cfg.Settings.Storage, log)
	if err != nil {
		// persistence is best-effort; the run proceeds without it
		log.Warn("storage unavailable, running without persistence", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	runner := engine.NewRunner(db, log, opts...)
	res, err := runner.Run(ctx, cfg, map[string]any(inputs))
	if err != nil {
		var cfgErr *engine.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "run: %v\n", err)
			return exitInvalidWorkflow
		}
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		if res != nil {
			printResult(res)
		}
		return exitRunFailed
	}

	printResult(res)
	return exitOK
}

func printResult(res *engine.RunResult) {
	out, err := json.MarshalIndent(map[string]any{
		"execution_id": res.ExecutionID,
		"status":       res.Status,
		"final_state":  res.FinalState,
		"duration_ms":  res.Duration.Milliseconds(),
		"cost_usd":     res.Totals.CostUSD,
	}, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(out))
}

func validateCmd(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "validate: exactly one workflow file is required")
		return exitUsage
	}

	cfg, err := workflow.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return exitInvalidWorkflow
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err := workflow.Validate(cfg, tools.DefaultRegistry().Names()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return exitInvalidWorkflow
	}
	fmt.Printf("%s is valid\n", fs.Arg(0))
	return exitOK
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	deployment := fs.String("deployment", "", "register this server as a named deployment")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg := config.Load("graphflow")
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, workflow.StorageConfig{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		URL:     cfg.Storage.URL,
	}, log)
	if err != nil {
		log.Error("storage unavailable", "error", err)
		return exitRunFailed
	}
	defer db.Close()

	workflows, err := openCache(ctx, cfg)
	if err != nil {
		log.Error("cache unavailable", "error", err)
		return exitRunFailed
	}
	defer workflows.Close()

	runner := engine.NewRunner(db, log)
	srv := server.New(db, runner, workflows, log)
	if *deployment != "" {
		if err := srv.RegisterDeployment(ctx, *deployment, "", 2*time.Minute); err != nil {
			log.Error("deployment registration failed", "error", err)
			return exitRunFailed
		}
	}

	httpSrv := commonserver.New(cfg.Service.Name, cfg.Service.Port, srv.Router(), log)
	if err := httpSrv.Start(); err != nil {
		log.Error("server stopped", "error", err)
		return exitRunFailed
	}
	return exitOK
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Service.Name)
	}
	return cache.NewMemoryCache(), nil
}
