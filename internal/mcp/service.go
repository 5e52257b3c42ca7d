package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/engine"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/run"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/taskdoc"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

type Service struct {
	engine   *engine.Engine
	defaults tot.RunConfig
}

// NewService binds the tool handlers to eng. defaults fills every run setting
// a request leaves out.
func NewService(eng *engine.Engine, defaults tot.RunConfig) *Service {
	return &Service{
		engine:   eng,
		defaults: defaults,
	}
}

// runConfig merges the request overrides into the defaults.
func (s *Service) runConfig(args StartRunArgs) (tot.RunConfig, error) {
	cfg := s.defaults
	if args.Strategy != "" {
		cfg.Strategy = args.Strategy
	}
	if args.MaxDepth > 0 {
		cfg.MaxDepth = args.MaxDepth
	}
	if args.BranchingFactor > 0 {
		cfg.BranchingFactor = args.BranchingFactor
	}
	if args.BeamWidth > 0 {
		cfg.BeamWidth = args.BeamWidth
	}
	if args.Parallelism > 0 {
		cfg.Parallelism = args.Parallelism
	}
	if args.MaxNodes > 0 {
		cfg.StopConditions.MaxNodes = args.MaxNodes
	}
	if args.MaxTimeSeconds > 0 {
		cfg.StopConditions.MaxTimeSeconds = args.MaxTimeSeconds
	}
	if args.UseReranker {
		cfg.UseReranker = true
	}
	if args.RerankerTopN > 0 {
		cfg.RerankerTopN = args.RerankerTopN
	}
	if args.CacheMinScore != nil {
		cfg.CacheMinScore = *args.CacheMinScore
	}
	if args.ValidationLevel != "" {
		level, err := tot.ParseValidationLevel(args.ValidationLevel)
		if err != nil {
			return cfg, err
		}
		cfg.Validation = level
	}
	return cfg, cfg.Validate()
}

// --- Tool Handlers ---

func (s *Service) StartRun(ctx context.Context, req *mcp.CallToolRequest, args StartRunArgs) (*mcp.CallToolResult, StartRunResult, error) {
	cfg, err := s.runConfig(args)
	if err != nil {
		return nil, StartRunResult{}, err
	}

	task := tot.Task{Instruction: strings.TrimSpace(args.Instruction), Constraints: args.Constraints}
	if task.Instruction == "" && args.InstructionFile != "" {
		task, err = taskdoc.LoadTask(args.InstructionFile, args.Constraints, 0)
		if err != nil {
			return nil, StartRunResult{}, err
		}
	}

	id, err := s.engine.Start(ctx, task, cfg, args.RunID)
	if err != nil {
		return nil, StartRunResult{}, err
	}
	return nil, StartRunResult{RunID: id, Status: string(run.StatusRunning), Strategy: cfg.Strategy}, nil
}

func (s *Service) RunStatus(ctx context.Context, req *mcp.CallToolRequest, args RunIDArgs) (*mcp.CallToolResult, RunStatusResult, error) {
	sum, err := s.engine.Status(args.RunID)
	if err != nil {
		return nil, RunStatusResult{}, err
	}
	return nil, statusOf(sum), nil
}

func (s *Service) RunResult(ctx context.Context, req *mcp.CallToolRequest, args RunResultArgs) (*mcp.CallToolResult, RunResultResult, error) {
	res, err := s.engine.Result(args.RunID)
	if err != nil {
		return nil, RunResultResult{}, err
	}

	out := RunResultResult{
		Run:         statusOf(res.Summary),
		FinalAnswer: res.Summary.FinalAnswer,
		Metrics:     res.Summary.Metrics,
	}
	if res.Tree != nil {
		if best := res.Tree.Best(); best != nil {
			out.BestPath = res.Tree.Path(best.ID)
		}
		if args.IncludeTree {
			tree, err := toJSONValue(res.Tree)
			if err != nil {
				return nil, RunResultResult{}, err
			}
			out.Tree = tree
		}
	}
	return nil, out, nil
}

func (s *Service) CancelRun(ctx context.Context, req *mcp.CallToolRequest, args RunIDArgs) (*mcp.CallToolResult, CancelRunResult, error) {
	if err := s.engine.Cancel(args.RunID); err != nil {
		return nil, CancelRunResult{}, err
	}
	return nil, CancelRunResult{RunID: args.RunID, Status: "cancellation_requested"}, nil
}

func (s *Service) ListRuns(ctx context.Context, req *mcp.CallToolRequest, args ListRunsArgs) (*mcp.CallToolResult, ListRunsResult, error) {
	rows := []RunRow{}
	for _, info := range s.engine.List() {
		if args.Status != "" && string(info.Status) != args.Status {
			continue
		}
		rows = append(rows, RunRow{
			RunID:              info.RunID,
			Status:             string(info.Status),
			Strategy:           info.Strategy,
			StartTime:          formatTime(info.StartTime),
			EndTime:            formatTime(info.EndTime),
			BestScore:          info.BestScore,
			FinalAnswerPreview: info.Preview,
		})
	}
	return nil, ListRunsResult{Runs: rows}, nil
}

// --- Resources ---

const defaultsURI = "config://defaults"

type defaultsDocument struct {
	RunDefaults tot.RunConfig `json:"run_defaults"`
	Strategies  []string      `json:"strategies"`
	CacheStats  any           `json:"cache,omitempty"`
}

// ReadDefaults serves the run defaults, the registered strategies and the
// cache statistics.
func (s *Service) ReadDefaults(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	doc := defaultsDocument{
		RunDefaults: s.defaults,
		Strategies:  s.engine.Strategies().Names(),
	}
	if c := s.engine.Cache(); c != nil {
		doc.CacheStats = c.Stats()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      defaultsURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// --- helpers ---

func statusOf(sum run.Summary) RunStatusResult {
	return RunStatusResult{
		RunID:         sum.RunID,
		Status:        string(sum.Status),
		Strategy:      sum.Strategy,
		StartTime:     formatTime(sum.StartTime),
		EndTime:       formatTime(sum.EndTime),
		NodesTotal:    sum.NodesTotal,
		NodesExpanded: sum.Expanded,
		FrontierSize:  sum.Frontier,
		BestScore:     sum.BestScore,
		StopReason:    sum.StopReason,
		Error:         sum.Error,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// toJSONValue round-trips v through JSON so it carries no Go-only types.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return out, nil
}
