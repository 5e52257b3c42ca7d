package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// Thinker backs the generator, evaluator and synthesizer roles of a run with
// one chat client.
type Thinker struct {
	client      Client
	proposeTemp float64
	valueTemp   float64
}

// NewThinker wraps client. proposeTemp and valueTemp are the sampling
// temperatures of the propose and evaluate calls; the final answer always uses 0.
func NewThinker(client Client, proposeTemp, valueTemp float64) *Thinker {
	return &Thinker{client: client, proposeTemp: proposeTemp, valueTemp: valueTemp}
}

// Propose asks for k candidate next thoughts. A reply that is not a JSON array
// falls back to one candidate per non-empty line.
func (t *Thinker) Propose(ctx context.Context, task tot.Task, pathText string, k int) ([]string, error) {
	constraints := task.Constraints
	if constraints == "" {
		constraints = "none"
	}
	prompt := fmt.Sprintf(proposeUserPrompt, task.Instruction, pathText, constraints, k)
	reply, err := t.client.Chat(ctx, proposeSystemPrompt, prompt, t.proposeTemp)
	if err != nil {
		return nil, fmt.Errorf("propose: %w", err)
	}
	return ParseCandidates(reply, k), nil
}

// Score asks for a multi-axis verdict on candidate. A malformed reply scores
// zero with the parse error as justification rather than failing the run.
func (t *Thinker) Score(ctx context.Context, task tot.Task, candidate, pathText string) (tot.ValueScore, error) {
	prompt := fmt.Sprintf(valueUserPrompt, task.Instruction, candidate, pathText)
	reply, err := t.client.Chat(ctx, valueSystemPrompt, prompt, t.valueTemp)
	if err != nil {
		return tot.ValueScore{}, fmt.Errorf("evaluate: %w", err)
	}
	v, err := ParseValueScore(reply)
	if err != nil {
		return tot.ValueScore{Justification: "parsing error: " + err.Error()}, nil
	}
	return v, nil
}

// Synthesize turns the chain into a final answer.
func (t *Thinker) Synthesize(ctx context.Context, task tot.Task, chain []string) (string, error) {
	prompt := fmt.Sprintf(finalizeUserPrompt, task.Instruction, strings.Join(chain, tot.PathSeparator))
	reply, err := t.client.Chat(ctx, finalizeSystemPrompt, prompt, 0)
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// stripFences removes a surrounding markdown code block, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "[{\"") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// ParseCandidates extracts at most k thoughts from a model reply.
func ParseCandidates(reply string, k int) []string {
	body := stripFences(reply)

	var out []string
	var items []interface{}
	if err := json.Unmarshal([]byte(body), &items); err == nil {
		for _, it := range items {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			case nil:
			default:
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			}
		}
	} else {
		for _, line := range strings.Split(body, "\n") {
			line = listMarker.ReplaceAllString(line, "")
			line = strings.Trim(strings.TrimSpace(line), `",`)
			if line == "" || line == "[" || line == "]" {
				continue
			}
			out = append(out, line)
		}
	}

	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if k > 0 && len(cleaned) > k {
		cleaned = cleaned[:k]
	}
	return cleaned
}

// ParseValueScore decodes the first JSON object in reply. Sub-scores are
// clamped to [0, 10].
func ParseValueScore(reply string) (tot.ValueScore, error) {
	body := stripFences(reply)
	start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return tot.ValueScore{}, fmt.Errorf("no JSON object in reply")
	}

	var raw struct {
		Progress      *float64 `json:"progress"`
		Promise       *float64 `json:"promise"`
		Confidence    *float64 `json:"confidence"`
		Justification string   `json:"justification"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return tot.ValueScore{}, err
	}
	if raw.Progress == nil || raw.Promise == nil || raw.Confidence == nil {
		return tot.ValueScore{}, fmt.Errorf("missing score fields")
	}
	return tot.ValueScore{
		Progress:      clamp(*raw.Progress),
		Promise:       clamp(*raw.Promise),
		Confidence:    clamp(*raw.Confidence),
		Justification: raw.Justification,
	}, nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(10, v))
}
