package tot

import (
	"fmt"
	"time"
)

// Strategy names accepted by RunConfig.Strategy.
const (
	StrategyBeamSearch      = "beam_search"
	StrategyBestFirstSearch = "best_first_search"
)

// StopConditions are the resource limits of a run.
type StopConditions struct {
	MaxNodes       int     `json:"max_nodes" yaml:"max_nodes"`
	MaxTimeSeconds float64 `json:"max_time_seconds" yaml:"max_time_seconds"`
}

// MaxTime returns MaxTimeSeconds as a duration.
func (s StopConditions) MaxTime() time.Duration {
	return time.Duration(s.MaxTimeSeconds * float64(time.Second))
}

// EvaluationWeights combine the evaluator's sub-scores into one value.
// They need not sum to 1.
type EvaluationWeights struct {
	Progress   float64 `json:"progress" yaml:"progress"`
	Promise    float64 `json:"promise" yaml:"promise"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// RunConfig controls one search run. It is not modified once the run starts.
type RunConfig struct {
	Strategy           string            `json:"strategy" yaml:"strategy"`
	BranchingFactor    int               `json:"branching_factor" yaml:"branching_factor"`
	MaxDepth           int               `json:"max_depth" yaml:"max_depth"`
	BeamWidth          int               `json:"beam_width" yaml:"beam_width"`
	ProposeTemperature float64           `json:"propose_temp" yaml:"propose_temp"`
	ValueTemperature   float64           `json:"value_temp" yaml:"value_temp"`
	Parallelism        int               `json:"parallelism" yaml:"parallelism"`
	StopConditions     StopConditions    `json:"stop_conditions" yaml:"stop_conditions"`
	EmbeddingModel     string            `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingDim       int               `json:"embedding_dim" yaml:"embedding_dim"`
	Weights            EvaluationWeights `json:"evaluation_weights" yaml:"evaluation_weights"`
	UseReranker        bool              `json:"use_reranker" yaml:"use_reranker"`
	RerankerTopN       int               `json:"reranker_top_n" yaml:"reranker_top_n"`
	CacheMinScore      float64           `json:"cache_min_score" yaml:"cache_min_score"`
	Validation         ValidationLevel   `json:"validation_level" yaml:"validation_level"`
}

// DefaultRunConfig returns the library defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Strategy:           StrategyBeamSearch,
		BranchingFactor:    3,
		MaxDepth:           2,
		BeamWidth:          5,
		ProposeTemperature: 0.7,
		ValueTemperature:   0.2,
		Parallelism:        4,
		StopConditions: StopConditions{
			MaxNodes:       200,
			MaxTimeSeconds: 30,
		},
		EmbeddingModel: "gemini-embedding-001",
		EmbeddingDim:   3072,
		Weights: EvaluationWeights{
			Progress:   0.4,
			Promise:    0.3,
			Confidence: 0.3,
		},
		RerankerTopN:  3,
		CacheMinScore: 0.75,
		Validation:    ValidationBasic,
	}
}

// Validate checks the configuration and returns a *ConfigurationError on the first problem.
func (c RunConfig) Validate() error {
	switch c.Strategy {
	case StrategyBeamSearch, StrategyBestFirstSearch:
	default:
		return &ConfigurationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Strategy)}
	}
	if c.BranchingFactor <= 0 {
		return &ConfigurationError{Field: "branching_factor", Reason: "must be positive"}
	}
	if c.MaxDepth <= 0 {
		return &ConfigurationError{Field: "max_depth", Reason: "must be positive"}
	}
	if c.BeamWidth <= 0 {
		return &ConfigurationError{Field: "beam_width", Reason: "must be positive"}
	}
	if c.Parallelism <= 0 {
		return &ConfigurationError{Field: "parallelism", Reason: "must be positive"}
	}
	if c.StopConditions.MaxNodes <= 0 {
		return &ConfigurationError{Field: "stop_conditions.max_nodes", Reason: "must be positive"}
	}
	if c.StopConditions.MaxTimeSeconds <= 0 {
		return &ConfigurationError{Field: "stop_conditions.max_time_seconds", Reason: "must be positive"}
	}
	if c.EmbeddingDim <= 0 {
		return &ConfigurationError{Field: "embedding_dim", Reason: "must be positive"}
	}
	if c.Weights.Progress < 0 || c.Weights.Promise < 0 || c.Weights.Confidence < 0 {
		return &ConfigurationError{Field: "evaluation_weights", Reason: "must not be negative"}
	}
	if c.UseReranker && c.RerankerTopN <= 0 {
		return &ConfigurationError{Field: "reranker_top_n", Reason: "must be positive when the reranker is enabled"}
	}
	if c.CacheMinScore < -1 || c.CacheMinScore > 1 {
		return &ConfigurationError{Field: "cache_min_score", Reason: "must be within [-1, 1]"}
	}
	return nil
}
