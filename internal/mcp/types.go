package mcp

// --- Tool Arguments ---

type StartRunArgs struct {
	Instruction     string   `json:"instruction,omitempty" jsonschema:"The problem to solve. Required unless instruction_file is given"`
	InstructionFile string   `json:"instruction_file,omitempty" jsonschema:"Path of a text, Markdown, PDF or DOCX file holding the problem"`
	Constraints     string   `json:"constraints,omitempty" jsonschema:"Constraints every thought must respect"`
	RunID           string   `json:"run_id,omitempty" jsonschema:"Optional id for the run. A UUID is generated when empty"`
	Strategy        string   `json:"strategy,omitempty" jsonschema:"Search strategy: beam_search or best_first_search"`
	MaxDepth        int      `json:"max_depth,omitempty" jsonschema:"Maximum tree depth (default 3)"`
	BranchingFactor int      `json:"branching_factor,omitempty" jsonschema:"Thoughts proposed per expanded node (default 2)"`
	BeamWidth       int      `json:"beam_width,omitempty" jsonschema:"Nodes kept per iteration (default 2)"`
	Parallelism     int      `json:"parallelism,omitempty" jsonschema:"Maximum concurrent evaluations"`
	MaxNodes        int      `json:"max_nodes,omitempty" jsonschema:"Stop after this many nodes (default 50)"`
	MaxTimeSeconds  float64  `json:"max_time_seconds,omitempty" jsonschema:"Stop after this many seconds (default 60)"`
	UseReranker     bool     `json:"use_reranker,omitempty" jsonschema:"Rerank new thoughts by relevance before evaluation"`
	RerankerTopN    int      `json:"reranker_top_n,omitempty" jsonschema:"Thoughts kept after reranking"`
	CacheMinScore   *float64 `json:"cache_min_score,omitempty" jsonschema:"Minimum cosine similarity for a cache hit, in [-1, 1]"`
	ValidationLevel string   `json:"validation_level,omitempty" jsonschema:"Tree invariant checks: none, basic or strict"`
}

type StartRunResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Strategy string `json:"strategy"`
}

type RunIDArgs struct {
	RunID string `json:"run_id" jsonschema:"The id returned by start_run"`
}

type RunResultArgs struct {
	RunID       string `json:"run_id" jsonschema:"The id returned by start_run"`
	IncludeTree bool   `json:"include_tree,omitempty" jsonschema:"Include every node of the final tree"`
}

type ListRunsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"Only list runs in this state: running, completed, failed or cancelled"`
}

// --- Tool Results ---

type RunStatusResult struct {
	RunID         string   `json:"run_id"`
	Status        string   `json:"status"`
	Strategy      string   `json:"strategy"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time,omitempty"`
	NodesTotal    int      `json:"nodes_total"`
	NodesExpanded int      `json:"nodes_expanded"`
	FrontierSize  int      `json:"frontier_size"`
	BestScore     *float64 `json:"best_score,omitempty"`
	StopReason    string   `json:"stop_reason,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type RunResultResult struct {
	Run         RunStatusResult `json:"run"`
	FinalAnswer string          `json:"final_answer,omitempty"`
	BestPath    []string        `json:"best_path,omitempty"`
	Metrics     map[string]any  `json:"metrics,omitempty"`
	Tree        any             `json:"tree,omitempty"`
}

type CancelRunResult struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type RunRow struct {
	RunID              string   `json:"run_id"`
	Status             string   `json:"status"`
	Strategy           string   `json:"strategy"`
	StartTime          string   `json:"start_time"`
	EndTime            string   `json:"end_time,omitempty"`
	BestScore          *float64 `json:"best_score,omitempty"`
	FinalAnswerPreview string   `json:"final_answer_preview,omitempty"`
}

type ListRunsResult struct {
	Runs []RunRow `json:"runs"`
}
