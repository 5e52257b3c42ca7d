package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/engine"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// Version is reported to MCP clients during initialization.
var Version = "0.1.0"

func NewMCPServer(eng *engine.Engine, defaults tot.RunConfig) *mcp.Server {
	service := NewService(eng, defaults)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "mcp-treeofthoughts",
		Version: Version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "start_run",
		Description: "Start a Tree-of-Thoughts search for a problem. Returns immediately with a run id; poll run_status.",
	}, service.StartRun)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_status",
		Description: "Report the progress of a run: node counts, best score and stop reason.",
	}, service.RunStatus)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_result",
		Description: "Fetch the final answer of a run, the best reasoning path and optionally the whole tree.",
	}, service.RunResult)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cancel_run",
		Description: "Ask a running search to stop at its next checkpoint.",
	}, service.CancelRun)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_runs",
		Description: "List known runs, oldest first, with a preview of each final answer.",
	}, service.ListRuns)

	s.AddResource(&mcp.Resource{
		URI:         defaultsURI,
		Name:        "defaults",
		Description: "Run defaults, available strategies and semantic cache statistics.",
		MIMEType:    "application/json",
	}, service.ReadDefaults)

	return s
}
