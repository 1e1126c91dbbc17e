package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MockClient fabricates a candidate that conforms to the instructions in the
// prompt, so the full pipeline (parse, verify, cache, persist) runs locally
// without a model. It reads the task parameters back out of the user prompt
// text that BuildPrompts emits.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error) {
	task := readPromptTask(userPrompt)

	var candidate Candidate
	if task.NumericOnly {
		candidate = mockNumericVariant(task)
	} else {
		candidate = mockFreshQuestion(task)
	}

	data, err := json.Marshal(candidate)
	if err != nil {
		return nil, &GenerationFailure{Kind: FailureMalformedOutput, Message: "mock marshal failed", Err: err}
	}

	return &LLMResponse{
		Content:      string(data),
		PromptTokens: 900,
		OutputTokens: 450,
	}, nil
}

// promptTask is what the mock recovers from the rendered user prompt.
type promptTask struct {
	SubjectID         int64
	TargetDifficulty  int
	KnowledgePointIDs []int64
	NumericOnly       bool
	SourceStem        string
	SourceOptions     []string
	SourceCorrect     string
}

func readPromptTask(userPrompt string) promptTask {
	task := promptTask{SubjectID: 1, TargetDifficulty: 3, SourceCorrect: "A"}

	for _, line := range strings.Split(userPrompt, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Subject id: "):
			if n, err := strconv.ParseInt(strings.TrimPrefix(line, "Subject id: "), 10, 64); err == nil {
				task.SubjectID = n
			}
		case strings.HasPrefix(line, "Target difficulty: "):
			rest := strings.TrimPrefix(line, "Target difficulty: ")
			if i := strings.IndexByte(rest, ' '); i > 0 {
				rest = rest[:i]
			}
			if n, err := strconv.Atoi(rest); err == nil {
				task.TargetDifficulty = n
			}
		case strings.HasPrefix(line, "Knowledge point ids: ") && len(task.KnowledgePointIDs) == 0:
			task.KnowledgePointIDs = parseIDList(strings.TrimPrefix(line, "Knowledge point ids: "))
		case strings.HasPrefix(line, "Stem: "):
			task.SourceStem = strings.TrimPrefix(line, "Stem: ")
		case len(line) > 3 && line[0] == '(' && line[2] == ')' && line[1] >= 'A' && line[1] <= 'D':
			task.SourceOptions = append(task.SourceOptions, strings.TrimSpace(line[3:]))
		case strings.HasPrefix(line, "Correct option: "):
			task.SourceCorrect = strings.TrimPrefix(line, "Correct option: ")
		case strings.HasPrefix(line, "Variance mode: numeric-only"):
			task.NumericOnly = true
		}
	}

	if len(task.KnowledgePointIDs) == 0 {
		task.KnowledgePointIDs = []int64{1}
	}
	return task
}

func parseIDList(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
			part = part[:i]
		}
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}

// mockNumericVariant echoes the source stem and options with every numeric
// literal shifted, which is exactly what the numeric-only mode asks for.
func mockNumericVariant(task promptTask) Candidate {
	opts := make([]CandidateOption, 4)
	for i, prefix := range []string{"A", "B", "C", "D"} {
		content := fmt.Sprintf("[Mock] option %s", prefix)
		if i < len(task.SourceOptions) {
			content = shiftNumbers(task.SourceOptions[i])
		}
		opts[i] = CandidateOption{
			Prefix:            prefix,
			Content:           content,
			ContentTranslated: content,
		}
	}

	stem := shiftNumbers(task.SourceStem)
	if stem == "" {
		stem = "[Mock] numeric variant stem"
	}

	return Candidate{
		SubjectID:          task.SubjectID,
		QuestionType:       "multiple_choice",
		Title:              stem,
		TitleTranslated:    stem,
		Options:            opts,
		CorrectPrefix:      task.SourceCorrect,
		Analysis:           "[Mock] Re-run the source solution steps with the shifted values.",
		AnalysisTranslated: "[Mock] Re-run the source solution steps with the shifted values.",
		Difficulty:         task.TargetDifficulty,
		KnowledgePointIDs:  task.KnowledgePointIDs,
	}
}

func mockFreshQuestion(task promptTask) Candidate {
	kp := joinIDs(task.KnowledgePointIDs)
	opts := make([]CandidateOption, 4)
	for i, prefix := range []string{"A", "B", "C", "D"} {
		text := fmt.Sprintf("[Mock] distractor %d built from a plausible misconception about concept set {%s}", i+1, kp)
		if prefix == "B" {
			text = fmt.Sprintf("[Mock] the value obtained by correctly applying concept set {%s}", kp)
		}
		opts[i] = CandidateOption{
			Prefix:            prefix,
			Content:           text,
			ContentTranslated: text,
		}
	}

	stem := fmt.Sprintf(
		"[Mock] A newly written scenario at level %d exercising knowledge points {%s}: compute the requested quantity from the given measurements 7, 12 and 48.",
		task.TargetDifficulty, kp,
	)

	return Candidate{
		SubjectID:          task.SubjectID,
		QuestionType:       "multiple_choice",
		Title:              stem,
		TitleTranslated:    stem,
		Options:            opts,
		CorrectPrefix:      "B",
		Analysis:           "[Mock] Option B follows from applying the tested concept directly; each other option reflects a specific misstep.",
		AnalysisTranslated: "[Mock] Option B follows from applying the tested concept directly; each other option reflects a specific misstep.",
		Difficulty:         task.TargetDifficulty,
		KnowledgePointIDs:  task.KnowledgePointIDs,
	}
}

// shiftNumbers rewrites every integer token n as n+1 (decimal parts kept).
func shiftNumbers(s string) string {
	return numericPattern.ReplaceAllStringFunc(s, func(tok string) string {
		intPart := tok
		frac := ""
		if i := strings.IndexByte(tok, '.'); i >= 0 {
			intPart, frac = tok[:i], tok[i:]
		}
		n, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return tok
		}
		return strconv.FormatInt(n+1, 10) + frac
	})
}
