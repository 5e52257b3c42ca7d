package llm

// Prompt templates. They are deliberately minimal: the caller fills in the
// task, the current chain of thoughts and the constraints.

const proposeSystemPrompt = `You are a panel of reasoning experts proposing next steps toward solving a task. ` +
	`Each expert takes a different perspective (analytical, creative, critical). ` +
	`Reply with a JSON array of strings and nothing else.`

const proposeUserPrompt = `Task:
%s

Current thought chain:
%s

Constraints:
%s

Return a JSON array of exactly %d distinct candidate thoughts: ["thought1", "thought2", ...]`

const valueSystemPrompt = `You are a critical evaluator scoring a candidate thought against a task. ` +
	`Reply with a JSON object and nothing else.`

const valueUserPrompt = `Task:
%s

Candidate thought:
%s

History:
%s

Score the candidate on:
1. progress (0-10): how far it directly advances the solution.
2. promise (0-10): its potential to unlock valuable paths later.
3. confidence (0-10): how likely this path leads to a correct solution.
4. justification: one or two sentences.

Return: {"progress": float, "promise": float, "confidence": float, "justification": "..."}`

const finalizeSystemPrompt = `Given the best chain of thoughts below, produce a concise final answer that solves the task. ` +
	`Reply with the answer only.`

const finalizeUserPrompt = `Task:
%s

Chain:
%s`
