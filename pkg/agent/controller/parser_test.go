package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReActResponse_FinalAnswer(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantThought string
		wantAnswer  string
	}{
		{
			name:        "standard final answer",
			input:       "Thought: I have enough info.\nFinal Answer: The root cause is OOM.",
			wantThought: "I have enough info.",
			wantAnswer:  "The root cause is OOM.",
		},
		{
			name:       "final answer without thought",
			input:      "Final Answer: Everything looks fine.",
			wantAnswer: "Everything looks fine.",
		},
		{
			name:        "multi-line final answer",
			input:       "Thought: Done.\nFinal Answer: Line one.\nLine two.\nLine three.",
			wantThought: "Done.",
			wantAnswer:  "Line one.\nLine two.\nLine three.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseReActResponse(tt.input)
			require.True(t, parsed.IsFinalAnswer, "expected final answer")
			assert.False(t, parsed.HasAction)
			assert.False(t, parsed.IsUnparseable)
			assert.Equal(t, tt.wantThought, parsed.Thought)
			assert.Equal(t, tt.wantAnswer, parsed.FinalAnswer)
		})
	}
}

func TestParseReActResponse_Action(t *testing.T) {
	parsed := ParseReActResponse("Thought: I need pods.\nAction: k8s.list_pods\nAction Input: {\"ns\": \"foo\"}")
	require.True(t, parsed.HasAction)
	assert.Equal(t, "k8s.list_pods", parsed.Action)
	assert.Equal(t, map[string]any{"ns": "foo"}, parsed.ActionInput)
	assert.Equal(t, "I need pods.", parsed.Thought)
}

func TestParseReActResponse_ActionEmptyInput(t *testing.T) {
	parsed := ParseReActResponse("Action: k8s.cluster_info\nAction Input:")
	require.True(t, parsed.HasAction)
	assert.Empty(t, parsed.ActionInput)
}

func TestParseReActResponse_ActionInputCodeFence(t *testing.T) {
	parsed := ParseReActResponse("Action: k8s.list_pods\nAction Input: ```json\n{\"ns\": \"foo\"}\n```")
	require.True(t, parsed.HasAction)
	assert.Equal(t, map[string]any{"ns": "foo"}, parsed.ActionInput)
}

func TestParseReActResponse_ActionInputNotObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text input", "Action: k8s.list_pods\nAction Input: just the foo namespace please"},
		{"array input", "Action: k8s.list_pods\nAction Input: [1, 2, 3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseReActResponse(tt.input)
			assert.True(t, parsed.IsUnparseable)
			assert.False(t, parsed.HasAction)
			assert.Contains(t, parsed.ErrorMessage, "Action Input")
		})
	}
}

func TestParseReActResponse_TieBreak(t *testing.T) {
	// Final Answer wins when no Action follows it
	parsed := ParseReActResponse(
		"Action: k8s.list_pods\nAction Input: {}\nThought: actually I know enough.\nFinal Answer: it is DNS.")
	require.True(t, parsed.IsFinalAnswer)
	assert.Equal(t, "it is DNS.", parsed.FinalAnswer)
	assert.False(t, parsed.HasAction)

	// An Action after the Final Answer supersedes it
	parsed = ParseReActResponse(
		"Final Answer: it is DNS.\nThought: wait, let me verify.\nAction: k8s.get_events\nAction Input: {\"ns\": \"foo\"}")
	require.True(t, parsed.HasAction)
	assert.Equal(t, "k8s.get_events", parsed.Action)
	assert.False(t, parsed.IsFinalAnswer)
}

func TestParseReActResponse_Done(t *testing.T) {
	// Bare terminator
	parsed := ParseReActResponse("Thought: collected everything relevant.\nDONE")
	assert.True(t, parsed.IsDone)
	assert.False(t, parsed.IsFinalAnswer)

	// Inside a Final Answer line
	parsed = ParseReActResponse("Final Answer: DONE")
	assert.True(t, parsed.IsDone)
}

func TestParseReActResponse_Unparseable(t *testing.T) {
	parsed := ParseReActResponse("")
	assert.True(t, parsed.IsUnparseable)

	parsed = ParseReActResponse("I will now look at the pods and see what is happening.")
	assert.True(t, parsed.IsUnparseable)
	assert.NotEmpty(t, parsed.ErrorMessage)
}

func TestParseReActResponse_MultipleActionsUsesLast(t *testing.T) {
	parsed := ParseReActResponse(
		"Action: k8s.list_pods\nAction Input: {\"ns\": \"a\"}\nObservation: hallucinated\nAction: k8s.get_events\nAction Input: {\"ns\": \"b\"}")
	require.True(t, parsed.HasAction)
	assert.Equal(t, "k8s.get_events", parsed.Action)
	assert.Equal(t, map[string]any{"ns": "b"}, parsed.ActionInput)
}

func TestSplitToolName(t *testing.T) {
	server, tool, ok := splitToolName("kubernetes-server.resources_get")
	require.True(t, ok)
	assert.Equal(t, "kubernetes-server", server)
	assert.Equal(t, "resources_get", tool)

	_, _, ok = splitToolName("noprefix")
	assert.False(t, ok)

	_, _, ok = splitToolName(".tool")
	assert.False(t, ok)
}
