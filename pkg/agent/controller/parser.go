package controller

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedResponse is the structured form of one LLM response.
type ParsedResponse struct {
	// Thinking text preceding the action or final answer
	Thought string

	// Tool call (server-prefixed name, raw and parsed input)
	HasAction      bool
	Action         string
	RawActionInput string
	ActionInput    map[string]any

	// Conclusion
	IsFinalAnswer bool
	FinalAnswer   string

	// Bare DONE terminator (data-collection strategies)
	IsDone bool

	// Response matched no recognized shape, or Action Input was not a
	// parsable structured object
	IsUnparseable bool
	ErrorMessage  string
}

// section headers recognized by the line scanner
const (
	headerThought     = "Thought:"
	headerAction      = "Action:"
	headerActionInput = "Action Input:"
	headerFinalAnswer = "Final Answer:"
	headerObservation = "Observation:"
)

// section is one recognized block within the response.
type section struct {
	kind  string
	line  int // line index of the header
	value []string
}

// ParseReActResponse parses LLM text output into a structured response.
//
// Tie-break: when both an Action and a Final Answer appear, the Final Answer
// wins only when no subsequent Action follows it — an Action written after
// the Final Answer supersedes it.
func ParseReActResponse(text string) *ParsedResponse {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ParsedResponse{IsUnparseable: true, ErrorMessage: "empty response"}
	}

	sections := extractSections(trimmed)

	lastAction := lastSection(sections, "action")
	lastFinal := lastSection(sections, "final_answer")
	thought := firstSectionText(sections, "thought")

	// Final Answer wins only when no Action follows it
	if lastFinal != nil && (lastAction == nil || lastAction.line < lastFinal.line) {
		answer := strings.TrimSpace(strings.Join(lastFinal.value, "\n"))
		if isDoneMarker(answer) {
			return &ParsedResponse{IsDone: true, Thought: thought}
		}
		if answer == "" {
			return &ParsedResponse{IsUnparseable: true, Thought: thought, ErrorMessage: "empty final answer"}
		}
		return &ParsedResponse{IsFinalAnswer: true, FinalAnswer: answer, Thought: thought}
	}

	if lastAction != nil {
		return parseAction(sections, lastAction, thought)
	}

	// Bare DONE on the last non-empty line terminates data collection
	if isDoneMarker(lastNonEmptyLine(trimmed)) {
		return &ParsedResponse{IsDone: true, Thought: thought}
	}

	return &ParsedResponse{
		IsUnparseable: true,
		Thought:       thought,
		ErrorMessage:  "no Action or Final Answer found",
	}
}

// parseAction resolves the Action Input paired with the given action section
// and validates it as a JSON object.
func parseAction(sections []section, action *section, thought string) *ParsedResponse {
	name := strings.TrimSpace(strings.Join(action.value, " "))
	if name == "" {
		return &ParsedResponse{IsUnparseable: true, Thought: thought, ErrorMessage: "empty Action"}
	}

	// The matching Action Input is the first one after this Action header
	var raw string
	for i := range sections {
		if sections[i].kind == "action_input" && sections[i].line > action.line {
			raw = strings.TrimSpace(strings.Join(sections[i].value, "\n"))
			break
		}
	}

	input, err := parseActionInput(raw)
	if err != nil {
		return &ParsedResponse{
			IsUnparseable:  true,
			Thought:        thought,
			ErrorMessage:   fmt.Sprintf("Action Input is not a parsable JSON object: %v", err),
			Action:         name,
			RawActionInput: raw,
		}
	}

	return &ParsedResponse{
		HasAction:      true,
		Thought:        thought,
		Action:         name,
		RawActionInput: raw,
		ActionInput:    input,
	}
}

// parseActionInput requires a JSON object (or empty input for no-parameter
// tools).
func parseActionInput(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(trimCodeFence(raw))
	if raw == "" {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// extractSections scans the response line by line into header-keyed blocks.
func extractSections(text string) []section {
	var sections []section
	var current *section

	flush := func() {
		if current != nil {
			sections = append(sections, *current)
			current = nil
		}
	}

	for i, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)

		switch {
		case strings.HasPrefix(line, headerFinalAnswer):
			flush()
			current = &section{kind: "final_answer", line: i, value: []string{strings.TrimSpace(line[len(headerFinalAnswer):])}}
		case strings.HasPrefix(line, headerActionInput):
			flush()
			current = &section{kind: "action_input", line: i, value: []string{strings.TrimSpace(line[len(headerActionInput):])}}
		case strings.HasPrefix(line, headerAction):
			flush()
			current = &section{kind: "action", line: i, value: []string{strings.TrimSpace(line[len(headerAction):])}}
		case strings.HasPrefix(line, headerThought):
			flush()
			current = &section{kind: "thought", line: i, value: []string{strings.TrimSpace(line[len(headerThought):])}}
		case strings.HasPrefix(line, headerObservation):
			// Model echoing observations — not its content, skip the block
			flush()
			current = &section{kind: "observation", line: i}
		default:
			if current != nil {
				current.value = append(current.value, line)
			} else if line != "" {
				// Leading free text counts as thought
				current = &section{kind: "thought", line: i, value: []string{line}}
			}
		}
	}
	flush()
	return sections
}

// lastSection returns the last section of the given kind, or nil.
func lastSection(sections []section, kind string) *section {
	for i := len(sections) - 1; i >= 0; i-- {
		if sections[i].kind == kind {
			return &sections[i]
		}
	}
	return nil
}

// firstSectionText returns the first section of the kind joined to a string.
func firstSectionText(sections []section, kind string) string {
	for i := range sections {
		if sections[i].kind == kind {
			return strings.TrimSpace(strings.Join(sections[i].value, "\n"))
		}
	}
	return ""
}

// trimCodeFence strips a surrounding markdown code fence, if present.
func trimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return s
}

// isDoneMarker reports whether the text is the bare DONE terminator.
func isDoneMarker(s string) bool {
	return strings.TrimSpace(s) == "DONE"
}

// lastNonEmptyLine returns the final non-empty line of the text.
func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
