// Command treeofthoughts serves Tree-of-Thoughts problem solving over the
// Model Context Protocol on stdio, with an optional ops HTTP listener.
//
// With -solve it runs a single search instead and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	totmcp "github.com/devviniuchita/mcp-treeofthoughts/internal/mcp"
	"github.com/devviniuchita/mcp-treeofthoughts/internal/server"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/cache"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/config"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/engine"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/llm"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/run"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/taskdoc"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

func main() {
	configPath := flag.String("config", "", "Path of the YAML configuration file")
	httpAddr := flag.String("http-addr", "", "Address of the ops HTTP server (overrides server.http_addr, e.g. :9091)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logJSON := flag.Bool("log-json", false, "Write logs as JSON")
	solve := flag.String("solve", "", "Solve this problem once and print the result instead of serving MCP")
	solveFile := flag.String("solve-file", "", "Like -solve, reading the problem from a text, PDF or DOCX file")
	flag.Parse()

	logger := newLogger(*logLevel, *logJSON)
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}

	eng, err := openEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *solve != "" || *solveFile != "" {
		err = solveOnce(ctx, eng, cfg.RunDefaults, *solve, *solveFile)
	} else {
		err = serve(ctx, eng, cfg, logger)
	}

	if cerr := eng.Close(); cerr != nil {
		logger.Error("Engine shutdown error", "error", cerr)
	}
	if err != nil {
		logger.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

// newLogger writes to stderr; stdout carries the MCP stream.
func newLogger(level string, asJSON bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openEngine(cfg config.Config, logger *slog.Logger) (*engine.Engine, error) {
	embedder, err := cfg.Embedder.NewEmbedder()
	if err != nil {
		return nil, err
	}

	var semCache *cache.SemanticCache
	if cfg.Cache.Enabled {
		opts := cfg.Cache.Options
		opts.Logger = logger
		semCache, err = cache.New(embedder, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open semantic cache: %w", err)
		}
	}

	client := cfg.NewChatClient()
	if off, ok := client.(llm.OfflineClient); ok {
		off.Logger = logger
		client = off
		logger.Warn("No LLM base_url configured, running offline")
	}
	thinker := llm.NewThinker(client, cfg.RunDefaults.ProposeTemperature, cfg.RunDefaults.ValueTemperature)

	opts := cfg.EngineOptions()
	opts.Logger = logger
	eng, err := engine.Open(opts, semCache, run.Collaborators{
		Generator:   thinker,
		Evaluator:   thinker,
		Synthesizer: thinker,
		Reranker:    run.NewEmbeddingReranker(embedder),
	})
	if err != nil {
		if semCache != nil {
			semCache.Close()
		}
		return nil, err
	}
	return eng, nil
}

func serve(ctx context.Context, eng *engine.Engine, cfg config.Config, logger *slog.Logger) error {
	if cfg.Server.HTTPAddr != "" {
		ops := server.NewServer(eng, cfg.Server.HTTPAddr, cfg.Server.AuthToken, logger)
		go func() {
			if err := ops.Run(); err != nil {
				logger.Error("Ops server stopped", "error", err)
			}
		}()
		defer ops.Shutdown()
	}

	logger.Info("MCP server ready on stdio", "strategies", eng.Strategies().Names())
	err := totmcp.NewMCPServer(eng, cfg.RunDefaults).Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func solveOnce(ctx context.Context, eng *engine.Engine, defaults tot.RunConfig, instruction, file string) error {
	task := tot.Task{Instruction: strings.TrimSpace(instruction)}
	if task.Instruction == "" {
		var err error
		if task, err = taskdoc.LoadTask(file, "", 0); err != nil {
			return err
		}
	}

	id, err := eng.Start(ctx, task, defaults, "")
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		eng.Cancel(id)
	}()

	if _, err := eng.Wait(context.Background(), id); err != nil {
		return err
	}
	res, err := eng.Result(id)
	if err != nil {
		return err
	}
	res.Tree = nil

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
