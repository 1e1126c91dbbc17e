package generator

import (
	"fmt"
	"strings"

	"github.com/exambank/backend/internal/models"
)

// Prompts is the model-ready instruction pair for one invocation.
type Prompts struct {
	System string
	User   string
}

var difficultyLabels = map[int]string{
	1: "introductory: directly applies a single concept",
	2: "basic: one concept with a small twist",
	3: "intermediate: combines two concepts or requires a short derivation",
	4: "advanced: multi-step reasoning across concepts",
	5: "killer: the hardest variant a strong student could still solve",
}

// DifficultyLabel describes a 1-5 difficulty for prompt text.
func DifficultyLabel(d int) string {
	if label, ok := difficultyLabels[d]; ok {
		return label
	}
	return difficultyLabels[3]
}

func SystemPrompt() string {
	return `You are an expert exam item writer for a bilingual question bank. Given a source multiple-choice question, you write a NEW question that tests the same knowledge points at a requested difficulty, without copying the source.

Structural rules for every question you write:
- Exactly 4 answer options, labeled A, B, C, D in order
- Exactly ONE correct option
- Each wrong option must be wrong for a specific, identifiable reason (a plausible miscalculation or misconception)
- Provide the stem, every option, and the analysis in both locales: the source language and the translated locale
- The analysis must explain why the correct option is right, referencing the solution steps
- Never reuse the source question's exact numbers, named entities, or scenario wording unless instructed otherwise
- Never reveal or reference the source question in the generated text

You must respond with valid JSON only. No markdown, no explanation outside the JSON.`
}

// BuildPrompts renders the full instruction for a generation attempt.
// Deterministic for identical input; feedback lines from a prior rejected
// attempt are appended to steer the next attempt away from the same failure.
func BuildPrompts(req models.GenerationRequest, feedback []string) Prompts {
	return Prompts{
		System: SystemPrompt(),
		User:   buildUserPrompt(req, feedback),
	}
}

func buildUserPrompt(req models.GenerationRequest, feedback []string) string {
	var sb strings.Builder

	src := req.Source
	target := req.TargetDifficulty()

	sb.WriteString("SOURCE QUESTION:\n")
	fmt.Fprintf(&sb, "Subject id: %d\n", src.SubjectID)
	fmt.Fprintf(&sb, "Question type: %s\n", src.QuestionType)
	fmt.Fprintf(&sb, "Knowledge point ids: %s\n", joinIDs(src.SortedKnowledgePointIDs()))
	fmt.Fprintf(&sb, "Difficulty: %d\n", src.Difficulty)
	fmt.Fprintf(&sb, "Stem: %s\n", src.Title)
	if src.TitleTranslated != "" {
		fmt.Fprintf(&sb, "Stem (translated): %s\n", src.TitleTranslated)
	}
	for _, opt := range src.Options {
		fmt.Fprintf(&sb, "(%s) %s\n", opt.Prefix, opt.Content)
	}
	fmt.Fprintf(&sb, "Correct option: %s\n", src.CorrectPrefix)
	if src.Analysis != "" {
		fmt.Fprintf(&sb, "Analysis: %s\n", src.Analysis)
	}

	sb.WriteString("\nTASK:\n")
	fmt.Fprintf(&sb, "Write ONE new %s question for subject id %d.\n", src.QuestionType, src.SubjectID)
	fmt.Fprintf(&sb, "Target difficulty: %d (%s)\n", target, DifficultyLabel(target))

	if req.NoVariance {
		fmt.Fprintf(&sb, "Knowledge point ids: %s (use EXACTLY this set, no additions or removals)\n", joinIDs(src.SortedKnowledgePointIDs()))
		sb.WriteString(`Variance mode: numeric-only. Keep the question's structure, scenario and solution method identical to the source. Change ONLY the numeric values (and the surface phrasing they force), so a student who solved the source must redo the calculation. At least one number must differ from the source.
`)
	} else {
		fmt.Fprintf(&sb, "Knowledge point ids: overlap with {%s} (the new question must test at least one of these)\n", joinIDs(src.SortedKnowledgePointIDs()))
		fmt.Fprintf(&sb, "Variance mode: %s. Write a genuinely different question (different scenario, different numbers) that tests the same material at the target difficulty.\n", varianceName(req.DifficultyVariance))
	}

	sb.WriteString(`
Respond with this exact JSON structure:
{
  "subject_id": ` + fmt.Sprintf("%d", src.SubjectID) + `,
  "question_type": "multiple_choice",
  "title": "...",
  "title_translated": "...",
  "options": [
    {"prefix": "A", "content": "...", "content_translated": "..."},
    {"prefix": "B", "content": "...", "content_translated": "..."},
    {"prefix": "C", "content": "...", "content_translated": "..."},
    {"prefix": "D", "content": "...", "content_translated": "..."}
  ],
  "correct_prefix": "B",
  "analysis": "...",
  "analysis_translated": "...",
  "difficulty": ` + fmt.Sprintf("%d", target) + `,
  "knowledge_point_ids": [` + joinIDs(src.SortedKnowledgePointIDs()) + `]
}

Requirements:
- Exactly 4 options with prefixes A, B, C, D in order
- "difficulty" must be exactly the target difficulty
- "knowledge_point_ids" must be the integer ids listed above, not names`)

	if len(feedback) > 0 {
		sb.WriteString("\n\nYOUR PREVIOUS ATTEMPT WAS REJECTED. Fix the following before responding:\n")
		for _, line := range feedback {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	return sb.String()
}

func varianceName(v models.DifficultyVariance) string {
	if v == "" {
		return string(models.VarianceSimilar)
	}
	return string(v)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}

// FeedbackForReasons maps verification rejections onto steering instructions
// for the next attempt.
func FeedbackForReasons(reasons []RejectionReason) []string {
	var lines []string
	for _, r := range reasons {
		switch r {
		case ReasonMalformed:
			lines = append(lines, "respond with the exact JSON structure shown, with exactly 4 options prefixed A, B, C, D and a correct_prefix that matches one of them")
		case ReasonConstraintViolation:
			lines = append(lines, "keep subject_id and question_type identical to the source question")
		case ReasonKnowledgePointMismatch:
			lines = append(lines, "knowledge_point_ids must come from the source question's knowledge point set")
		case ReasonDifficultyMismatch:
			lines = append(lines, "set difficulty to exactly the target difficulty given in the task")
		case ReasonDuplicate:
			lines = append(lines, "your question was too close to the source: use a different scenario, different numbers, and different wording")
		case ReasonInsufficientVariance:
			lines = append(lines, "keep the source question's structure but change at least one numeric value")
		}
	}
	return lines
}

// FeedbackForFailure maps a surfaced generation failure onto a steering
// instruction, where a re-prompt can plausibly help.
func FeedbackForFailure(f *GenerationFailure) []string {
	switch f.Kind {
	case FailureMalformedOutput:
		return []string{"respond with valid JSON only, no markdown fences or commentary"}
	case FailureContentPolicy:
		return []string{"use a neutral academic scenario with no sensitive content"}
	default:
		return nil
	}
}
