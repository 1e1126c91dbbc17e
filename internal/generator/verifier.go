package generator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/exambank/backend/internal/models"
)

// RejectionReason identifies the verification stage that rejected a candidate.
type RejectionReason string

const (
	ReasonMalformed              RejectionReason = "malformed"
	ReasonConstraintViolation    RejectionReason = "constraint_violation"
	ReasonKnowledgePointMismatch RejectionReason = "knowledge_point_mismatch"
	ReasonDifficultyMismatch     RejectionReason = "difficulty_mismatch"
	ReasonDuplicate              RejectionReason = "duplicate"
	ReasonInsufficientVariance   RejectionReason = "insufficient_variance"
)

// VerificationResult is produced fresh per attempt.
type VerificationResult struct {
	Accepted           bool              `json:"accepted"`
	Reasons            []RejectionReason `json:"reasons,omitempty"`
	MeasuredDifficulty int               `json:"measured_difficulty"`
	SimilarityToSource float64           `json:"similarity_to_source"`
}

// Scorer measures similarity between two questions in [0, 1]. The default is
// lexical overlap; an embedding-based scorer can be substituted without
// touching the verifier.
type Scorer interface {
	Similarity(a, b models.Question) float64
}

const (
	// Candidates at or above this similarity are duplicates of the source.
	DuplicateThreshold = 0.92
	// Under numeric-only variance the candidate must stay at least this
	// structurally similar to the source.
	StructuralFloor = 0.60
)

type Verifier struct {
	scorer             Scorer
	duplicateThreshold float64
	structuralFloor    float64
}

func NewVerifier(scorer Scorer) *Verifier {
	if scorer == nil {
		scorer = JaccardScorer{}
	}
	return &Verifier{
		scorer:             scorer,
		duplicateThreshold: DuplicateThreshold,
		structuralFloor:    StructuralFloor,
	}
}

// Verify runs the staged checks against a raw candidate. A parse failure
// short-circuits; every later stage runs and accumulates its own rejection,
// so one attempt reports all of its problems. The returned Question is only
// meaningful when the result is accepted.
func (v *Verifier) Verify(candidateText string, req models.GenerationRequest) (models.Question, VerificationResult) {
	candidate, err := ParseCandidate(candidateText)
	if err != nil {
		return models.Question{}, VerificationResult{Reasons: []RejectionReason{ReasonMalformed}}
	}

	q := candidate.ToQuestion()
	result := VerificationResult{MeasuredDifficulty: q.Difficulty}

	// Type/subject conformance
	if q.SubjectID != req.Source.SubjectID || q.QuestionType != req.Source.QuestionType {
		result.Reasons = append(result.Reasons, ReasonConstraintViolation)
	}

	// Knowledge-point conformance
	if !knowledgePointsConform(q, req) {
		result.Reasons = append(result.Reasons, ReasonKnowledgePointMismatch)
	}

	// Difficulty conformance
	if q.Difficulty != req.TargetDifficulty() {
		result.Reasons = append(result.Reasons, ReasonDifficultyMismatch)
	}

	// Non-duplication / numeric-only variance
	result.SimilarityToSource = v.scorer.Similarity(q, req.Source)
	if req.NoVariance {
		if result.SimilarityToSource < v.structuralFloor || !numericTokensDiffer(q, req.Source) {
			result.Reasons = append(result.Reasons, ReasonInsufficientVariance)
		}
	} else if result.SimilarityToSource >= v.duplicateThreshold {
		result.Reasons = append(result.Reasons, ReasonDuplicate)
	}

	result.Accepted = len(result.Reasons) == 0
	if result.Accepted {
		// Belt check: an accepted candidate must be a valid Question.
		if err := q.Validate(); err != nil {
			result.Accepted = false
			result.Reasons = append(result.Reasons, ReasonConstraintViolation)
		}
	}

	return q, result
}

func knowledgePointsConform(q models.Question, req models.GenerationRequest) bool {
	if len(q.KnowledgePointIDs) == 0 {
		return false
	}
	sourceSet := make(map[int64]bool, len(req.Source.KnowledgePointIDs))
	for _, id := range req.Source.KnowledgePointIDs {
		sourceSet[id] = true
	}

	if req.NoVariance {
		if len(q.KnowledgePointIDs) != len(sourceSet) {
			return false
		}
		seen := make(map[int64]bool, len(q.KnowledgePointIDs))
		for _, id := range q.KnowledgePointIDs {
			if !sourceSet[id] || seen[id] {
				return false
			}
			seen[id] = true
		}
		return true
	}

	for _, id := range q.KnowledgePointIDs {
		if sourceSet[id] {
			return true
		}
	}
	return false
}

// ── Similarity ─────────────────────────────────────────────

// JaccardScorer measures locale-normalized token overlap across the stem and
// option contents of both questions.
type JaccardScorer struct{}

func (JaccardScorer) Similarity(a, b models.Question) float64 {
	return jaccard(tokenSet(questionText(a)), tokenSet(questionText(b)))
}

func questionText(q models.Question) string {
	var sb strings.Builder
	sb.WriteString(q.Title)
	sb.WriteByte(' ')
	sb.WriteString(q.TitleTranslated)
	for _, opt := range q.Options {
		sb.WriteByte(' ')
		sb.WriteString(opt.Content)
		sb.WriteByte(' ')
		sb.WriteString(opt.ContentTranslated)
	}
	return sb.String()
}

func tokenSet(s string) map[string]bool {
	tokens := make(map[string]bool)
	word := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	for _, w := range word {
		w = strings.Trim(w, ".")
		if w != "" {
			tokens[w] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// ── Numeric variance ───────────────────────────────────────

var numericPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// numericTokensDiffer reports whether the generated question varies any
// numeric literal relative to the source. Two questions with identical
// numeric content (including none at all) have not varied numerically.
func numericTokensDiffer(generated, source models.Question) bool {
	g := numericSet(questionText(generated))
	s := numericSet(questionText(source))
	if len(g) != len(s) {
		return true
	}
	for tok := range g {
		if !s[tok] {
			return true
		}
	}
	return false
}

func numericSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range numericPattern.FindAllString(s, -1) {
		set[tok] = true
	}
	return set
}
