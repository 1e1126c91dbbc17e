package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
)

// OptionPrefixes is the required option labeling, in order.
var OptionPrefixes = []string{"A", "B", "C", "D"}

// DifficultyVariance selects how far the generated question's difficulty
// should sit from the source question's.
type DifficultyVariance string

const (
	VarianceEasier  DifficultyVariance = "easier"
	VarianceSimilar DifficultyVariance = "similar"
	VarianceHarder  DifficultyVariance = "harder"
	VarianceKiller  DifficultyVariance = "killer"
)

var ValidVariances = map[DifficultyVariance]bool{
	VarianceEasier:  true,
	VarianceSimilar: true,
	VarianceHarder:  true,
	VarianceKiller:  true,
}

const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// ── Core Structs ───────────────────────────────────────

type Question struct {
	ID                 int64        `json:"id"`
	SubjectID          int64        `json:"subject_id"`
	QuestionType       QuestionType `json:"question_type"`
	Title              string       `json:"title"`
	TitleTranslated    string       `json:"title_translated"`
	Options            []Option     `json:"options"`
	CorrectPrefix      string       `json:"correct_prefix"`
	Analysis           string       `json:"analysis"`
	AnalysisTranslated string       `json:"analysis_translated"`
	Difficulty         int          `json:"difficulty"`
	KnowledgePointIDs  []int64      `json:"knowledge_point_ids"`
	SourceQuestionID   *int64       `json:"source_question_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

type Option struct {
	Prefix            string `json:"prefix"`
	Content           string `json:"content"`
	ContentTranslated string `json:"content_translated"`
}

// Validate reports every violation of the question invariant. A question
// that fails here is never returned as a generation result.
func (q Question) Validate() error {
	var errs []string

	if q.SubjectID <= 0 {
		errs = append(errs, "subject_id is required")
	}
	if q.QuestionType != TypeMultipleChoice {
		errs = append(errs, fmt.Sprintf("unsupported question_type %q", q.QuestionType))
	}
	if strings.TrimSpace(q.Title) == "" && strings.TrimSpace(q.TitleTranslated) == "" {
		errs = append(errs, "title and title_translated cannot both be empty")
	}
	if len(q.Options) != len(OptionPrefixes) {
		errs = append(errs, fmt.Sprintf("expected %d options, got %d", len(OptionPrefixes), len(q.Options)))
	} else {
		for i, opt := range q.Options {
			if opt.Prefix != OptionPrefixes[i] {
				errs = append(errs, fmt.Sprintf("option %d has prefix %q, expected %q", i+1, opt.Prefix, OptionPrefixes[i]))
			}
			if strings.TrimSpace(opt.Content) == "" && strings.TrimSpace(opt.ContentTranslated) == "" {
				errs = append(errs, fmt.Sprintf("option %s has no content in either locale", opt.Prefix))
			}
		}
	}
	correctFound := false
	for _, opt := range q.Options {
		if opt.Prefix == q.CorrectPrefix {
			correctFound = true
			break
		}
	}
	if !correctFound {
		errs = append(errs, fmt.Sprintf("correct_prefix %q does not reference an option", q.CorrectPrefix))
	}
	if q.Difficulty < MinDifficulty || q.Difficulty > MaxDifficulty {
		errs = append(errs, fmt.Sprintf("difficulty %d outside range [%d, %d]", q.Difficulty, MinDifficulty, MaxDifficulty))
	}
	if len(q.KnowledgePointIDs) == 0 {
		errs = append(errs, "knowledge_point_ids cannot be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid question: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CorrectOption returns the option referenced by CorrectPrefix.
func (q Question) CorrectOption() (Option, bool) {
	for _, opt := range q.Options {
		if opt.Prefix == q.CorrectPrefix {
			return opt, true
		}
	}
	return Option{}, false
}

// SortedKnowledgePointIDs returns the knowledge-point set in ascending order.
// Used wherever a canonical ordering is needed (fingerprints, prompts).
func (q Question) SortedKnowledgePointIDs() []int64 {
	ids := make([]int64, len(q.KnowledgePointIDs))
	copy(ids, q.KnowledgePointIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type KnowledgePoint struct {
	ID        int64     `json:"id"`
	SubjectID int64     `json:"subject_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Subject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ── Generation Request ────────────────────────────────

// GenerationRequest is the full parameter set for one logical
// similar-question generation.
type GenerationRequest struct {
	Source             Question           `json:"source"`
	DifficultyVariance DifficultyVariance `json:"difficulty_variance"`
	NoVariance         bool               `json:"no_variance"`
}

// TargetDifficulty maps the variance mode onto the 1-5 scale. NoVariance
// pins the target to the source difficulty regardless of the variance mode.
func (r GenerationRequest) TargetDifficulty() int {
	if r.NoVariance {
		return r.Source.Difficulty
	}
	switch r.DifficultyVariance {
	case VarianceEasier:
		return clampDifficulty(r.Source.Difficulty - 1)
	case VarianceHarder:
		return clampDifficulty(r.Source.Difficulty + 1)
	case VarianceKiller:
		return MaxDifficulty
	default:
		return clampDifficulty(r.Source.Difficulty)
	}
}

func clampDifficulty(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}

// ── API Request Types ─────────────────────────────────

type GenerateSimilarRequest struct {
	DifficultyVariance DifficultyVariance `json:"difficulty_variance,omitempty"`
	NoVariance         bool               `json:"no_variance,omitempty"`
}

// ── API Response Types ────────────────────────────────

type GenerateSimilarResponse struct {
	Question        Question `json:"question"`
	ServedFromCache bool     `json:"served_from_cache"`
	Attempts        int      `json:"attempts"`
}

type GenerationFailureResponse struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Attempts  int    `json:"attempts"`
}

type QuestionListResponse struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

type KnowledgePointListResponse struct {
	KnowledgePoints []KnowledgePoint `json:"knowledge_points"`
}

// ── Generation Log ────────────────────────────────────

type GenerationOutcome string

const (
	OutcomeAccepted GenerationOutcome = "accepted"
	OutcomeCacheHit GenerationOutcome = "cache_hit"
	OutcomeFailed   GenerationOutcome = "failed"
)

// GenerationLog is one row of the per-request audit trail: what was asked,
// how many attempts it took, and how it ended.
type GenerationLog struct {
	ID                 int64              `json:"id"`
	UserID             int64              `json:"user_id"`
	SourceQuestionID   int64              `json:"source_question_id"`
	GeneratedID        *int64             `json:"generated_question_id,omitempty"`
	Fingerprint        string             `json:"fingerprint"`
	DifficultyVariance DifficultyVariance `json:"difficulty_variance"`
	NoVariance         bool               `json:"no_variance"`
	Outcome            GenerationOutcome  `json:"outcome"`
	Attempts           int                `json:"attempts"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	SimilarityToSource float64            `json:"similarity_to_source,omitempty"`
	PromptTokens       int                `json:"prompt_tokens,omitempty"`
	OutputTokens       int                `json:"output_tokens,omitempty"`
	DurationMs         int                `json:"duration_ms,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

type GenerationLogListResponse struct {
	Logs     []GenerationLog `json:"logs"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}
