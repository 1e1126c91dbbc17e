package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/exambank/backend/internal/models"
)

// Candidate is the wire shape the model is instructed to emit.
type Candidate struct {
	SubjectID          int64             `json:"subject_id"`
	QuestionType       string            `json:"question_type"`
	Title              string            `json:"title"`
	TitleTranslated    string            `json:"title_translated"`
	Options            []CandidateOption `json:"options"`
	CorrectPrefix      string            `json:"correct_prefix"`
	Analysis           string            `json:"analysis"`
	AnalysisTranslated string            `json:"analysis_translated"`
	Difficulty         int               `json:"difficulty"`
	KnowledgePointIDs  []int64           `json:"knowledge_point_ids"`
}

type CandidateOption struct {
	Prefix            string `json:"prefix"`
	Content           string `json:"content"`
	ContentTranslated string `json:"content_translated"`
}

// ParseError carries every structural problem found in a candidate.
type ParseError struct {
	Errors []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("candidate malformed: %s", strings.Join(e.Errors, "; "))
}

// ParseCandidate parses raw model output into a structurally valid candidate:
// exactly 4 options prefixed A-D in order, a correct prefix referencing one of
// them, and a non-empty stem in at least one locale. Anything less is a
// ParseError; no further verification stages apply to it.
func ParseCandidate(responseBody string) (*Candidate, error) {
	cleaned := stripCodeFences(responseBody)

	var c Candidate
	if err := json.Unmarshal([]byte(cleaned), &c); err != nil {
		return nil, &ParseError{Errors: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}

	var errs []string

	if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.TitleTranslated) == "" {
		errs = append(errs, "title empty in both locales")
	}

	if len(c.Options) != len(models.OptionPrefixes) {
		errs = append(errs, fmt.Sprintf("expected %d options, got %d", len(models.OptionPrefixes), len(c.Options)))
	} else {
		for i, opt := range c.Options {
			if opt.Prefix != models.OptionPrefixes[i] {
				errs = append(errs, fmt.Sprintf("option %d has prefix %q, expected %q", i+1, opt.Prefix, models.OptionPrefixes[i]))
			}
			if strings.TrimSpace(opt.Content) == "" && strings.TrimSpace(opt.ContentTranslated) == "" {
				errs = append(errs, fmt.Sprintf("option %s has no content", opt.Prefix))
			}
		}

		correctFound := false
		for _, opt := range c.Options {
			if opt.Prefix == c.CorrectPrefix {
				correctFound = true
				break
			}
		}
		if !correctFound {
			errs = append(errs, fmt.Sprintf("correct_prefix %q does not reference an option", c.CorrectPrefix))
		}
	}

	if len(errs) > 0 {
		return nil, &ParseError{Errors: errs}
	}

	return &c, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```json"))
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// ToQuestion converts a parsed candidate into the domain value type.
func (c Candidate) ToQuestion() models.Question {
	opts := make([]models.Option, len(c.Options))
	for i, o := range c.Options {
		opts[i] = models.Option{
			Prefix:            o.Prefix,
			Content:           o.Content,
			ContentTranslated: o.ContentTranslated,
		}
	}
	return models.Question{
		SubjectID:          c.SubjectID,
		QuestionType:       models.QuestionType(c.QuestionType),
		Title:              c.Title,
		TitleTranslated:    c.TitleTranslated,
		Options:            opts,
		CorrectPrefix:      c.CorrectPrefix,
		Analysis:           c.Analysis,
		AnalysisTranslated: c.AnalysisTranslated,
		Difficulty:         c.Difficulty,
		KnowledgePointIDs:  c.KnowledgePointIDs,
	}
}
