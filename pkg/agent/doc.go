// Package agent runs the tool-calling conversation loop: provider turn,
// tool execution, repeat until the model answers without tool calls.
//
// Invariants:
// - Cancellation and the wall-clock budget are checked before every turn.
// - Tool calls of a turn execute sequentially, each answered by exactly
//   one tool message before the next turn.
// - Configuration errors surface before any network call.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Logger: logger})
//	result := runner.RunTask(ctx, agent.TaskParams{
//		WorkspaceRoot: root,
//		Prompt:        "summarize AGENTS.md",
//	})
//	_ = result
package agent
