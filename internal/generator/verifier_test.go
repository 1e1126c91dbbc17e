package generator

import (
	"testing"

	"github.com/exambank/backend/internal/models"
)

// requestFor builds a GenerationRequest whose source mirrors validCandidate,
// so a candidate's similarity to it is controllable per test.
func requestFor(variance models.DifficultyVariance, noVariance bool) models.GenerationRequest {
	c := validCandidate()
	src := c.ToQuestion()
	src.ID = 7
	return models.GenerationRequest{
		Source:             src,
		DifficultyVariance: variance,
		NoVariance:         noVariance,
	}
}

// freshCandidate is a structurally valid candidate that shares the subject
// and knowledge points with the source but none of its wording.
func freshCandidate(difficulty int) Candidate {
	return Candidate{
		SubjectID:       2,
		QuestionType:    "multiple_choice",
		Title:           "Three lamps connected in parallel each draw 0.5 A. What total current flows from the supply?",
		TitleTranslated: "三盏并联的灯各通过 0.5 A 电流，电源输出的总电流是多少？",
		Options: []CandidateOption{
			{Prefix: "A", Content: "0.5 A"},
			{Prefix: "B", Content: "1.0 A"},
			{Prefix: "C", Content: "1.5 A"},
			{Prefix: "D", Content: "4.5 A"},
		},
		CorrectPrefix:      "C",
		Analysis:           "Parallel branch currents add: 3 × 0.5 = 1.5 A.",
		AnalysisTranslated: "并联支路电流相加：3 × 0.5 = 1.5 A。",
		Difficulty:         difficulty,
		KnowledgePointIDs:  []int64{30},
	}
}

func verify(t *testing.T, c Candidate, req models.GenerationRequest) (models.Question, VerificationResult) {
	t.Helper()
	v := NewVerifier(nil)
	return v.Verify(candidateJSON(t, c), req)
}

func hasReason(vr VerificationResult, want RejectionReason) bool {
	for _, r := range vr.Reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestVerify_AcceptsConformingCandidate(t *testing.T) {
	req := requestFor(models.VarianceSimilar, false)
	q, vr := verify(t, freshCandidate(2), req) // source difficulty 2, similar → target 2

	if !vr.Accepted {
		t.Fatalf("expected acceptance, got reasons: %v", vr.Reasons)
	}
	if vr.MeasuredDifficulty != 2 {
		t.Errorf("expected measured difficulty 2, got %d", vr.MeasuredDifficulty)
	}
	if vr.SimilarityToSource >= DuplicateThreshold {
		t.Errorf("fresh candidate should sit below the duplicate threshold, got %f", vr.SimilarityToSource)
	}
	if err := q.Validate(); err != nil {
		t.Errorf("accepted question must be valid: %v", err)
	}
}

func TestVerify_MalformedShortCircuits(t *testing.T) {
	req := requestFor(models.VarianceSimilar, false)
	v := NewVerifier(nil)

	_, vr := v.Verify("not even close to JSON", req)
	if vr.Accepted {
		t.Fatal("malformed candidate must be rejected")
	}
	if len(vr.Reasons) != 1 || vr.Reasons[0] != ReasonMalformed {
		t.Errorf("malformed candidate must report only Malformed, got %v", vr.Reasons)
	}
}

func TestVerify_ThreeOptionsIsMalformed(t *testing.T) {
	c := freshCandidate(2)
	c.Options = c.Options[:3]
	c.CorrectPrefix = "A"

	_, vr := verify(t, c, requestFor(models.VarianceSimilar, false))
	if !hasReason(vr, ReasonMalformed) {
		t.Errorf("expected Malformed for 3 options, got %v", vr.Reasons)
	}
	// No later stage may run on a malformed candidate.
	if len(vr.Reasons) != 1 {
		t.Errorf("malformed must short-circuit, got %v", vr.Reasons)
	}
}

func TestVerify_SubjectMismatch(t *testing.T) {
	c := freshCandidate(2)
	c.SubjectID = 99

	_, vr := verify(t, c, requestFor(models.VarianceSimilar, false))
	if !hasReason(vr, ReasonConstraintViolation) {
		t.Errorf("expected ConstraintViolation, got %v", vr.Reasons)
	}
}

func TestVerify_KnowledgePointDisjoint(t *testing.T) {
	c := freshCandidate(2)
	c.KnowledgePointIDs = []int64{888}

	_, vr := verify(t, c, requestFor(models.VarianceSimilar, false))
	if !hasReason(vr, ReasonKnowledgePointMismatch) {
		t.Errorf("expected KnowledgePointMismatch, got %v", vr.Reasons)
	}
}

func TestVerify_KnowledgePointOverlapSufficient(t *testing.T) {
	req := requestFor(models.VarianceSimilar, false)
	req.Source.KnowledgePointIDs = []int64{30, 41}

	c := freshCandidate(2)
	c.KnowledgePointIDs = []int64{30, 777} // overlap on 30 is enough

	_, vr := verify(t, c, req)
	if hasReason(vr, ReasonKnowledgePointMismatch) {
		t.Errorf("overlap > 0 must pass, got %v", vr.Reasons)
	}
}

func TestVerify_NoVarianceRequiresExactKnowledgePoints(t *testing.T) {
	req := requestFor(models.VarianceSimilar, true)
	req.Source.KnowledgePointIDs = []int64{30, 41}

	c := shiftedCandidate()
	c.KnowledgePointIDs = []int64{30} // subset is not enough under no-variance

	_, vr := verify(t, c, req)
	if !hasReason(vr, ReasonKnowledgePointMismatch) {
		t.Errorf("expected KnowledgePointMismatch, got %v", vr.Reasons)
	}
}

func TestVerify_DifficultyMismatch(t *testing.T) {
	req := requestFor(models.VarianceHarder, false) // source 2 → target 3

	_, vr := verify(t, freshCandidate(2), req)
	if !hasReason(vr, ReasonDifficultyMismatch) {
		t.Errorf("expected DifficultyMismatch, got %v", vr.Reasons)
	}

	_, vr = verify(t, freshCandidate(3), req)
	if hasReason(vr, ReasonDifficultyMismatch) {
		t.Errorf("difficulty 3 matches the target, got %v", vr.Reasons)
	}
}

func TestVerify_DuplicateOfSource(t *testing.T) {
	// Identical wording to the source: similarity 1.0 ≥ 0.92.
	_, vr := verify(t, validCandidate(), requestFor(models.VarianceSimilar, false))
	if !hasReason(vr, ReasonDuplicate) {
		t.Errorf("expected Duplicate, got %v", vr.Reasons)
	}
	if vr.SimilarityToSource < DuplicateThreshold {
		t.Errorf("expected similarity at or above %f, got %f", DuplicateThreshold, vr.SimilarityToSource)
	}
}

// shiftedCandidate mirrors the source with every number changed, the shape
// numeric-only variance asks for.
func shiftedCandidate() Candidate {
	c := validCandidate()
	c.Title = "A resistor of 8 Ω carries a current of 3 A. What is the voltage across it?"
	c.TitleTranslated = "一个 8 Ω 的电阻通过 3 A 的电流，电阻两端的电压是多少？"
	c.Options = []CandidateOption{
		{Prefix: "A", Content: "5 V", ContentTranslated: "5 伏"},
		{Prefix: "B", Content: "11 V", ContentTranslated: "11 伏"},
		{Prefix: "C", Content: "24 V", ContentTranslated: "24 伏"},
		{Prefix: "D", Content: "48 V", ContentTranslated: "48 伏"},
	}
	c.Analysis = "U = IR = 3 × 8 = 24 V."
	return c
}

func TestVerify_NoVarianceAcceptsNumericShift(t *testing.T) {
	req := requestFor(models.VarianceSimilar, true)

	q, vr := verify(t, shiftedCandidate(), req)
	if !vr.Accepted {
		t.Fatalf("numeric shift should be accepted, got reasons: %v (similarity %f)", vr.Reasons, vr.SimilarityToSource)
	}
	if vr.SimilarityToSource < StructuralFloor {
		t.Errorf("structural similarity %f below floor %f", vr.SimilarityToSource, StructuralFloor)
	}
	if err := q.Validate(); err != nil {
		t.Errorf("accepted question must be valid: %v", err)
	}
}

func TestVerify_NoVarianceRejectsIdenticalNumbers(t *testing.T) {
	// Same numbers as the source: nothing varied.
	_, vr := verify(t, validCandidate(), requestFor(models.VarianceSimilar, true))
	if !hasReason(vr, ReasonInsufficientVariance) {
		t.Errorf("expected InsufficientVariance, got %v", vr.Reasons)
	}
}

func TestVerify_NoVarianceRejectsStructuralDrift(t *testing.T) {
	// Different numbers but a completely different question: below the floor.
	c := freshCandidate(2)
	_, vr := verify(t, c, requestFor(models.VarianceSimilar, true))
	if !hasReason(vr, ReasonInsufficientVariance) {
		t.Errorf("expected InsufficientVariance for structural drift, got %v", vr.Reasons)
	}
}

func TestVerify_AccumulatesReasons(t *testing.T) {
	c := freshCandidate(5) // wrong difficulty (target 2)
	c.SubjectID = 99       // wrong subject
	c.KnowledgePointIDs = []int64{777}

	_, vr := verify(t, c, requestFor(models.VarianceSimilar, false))
	for _, want := range []RejectionReason{ReasonConstraintViolation, ReasonDifficultyMismatch, ReasonKnowledgePointMismatch} {
		if !hasReason(vr, want) {
			t.Errorf("missing reason %s in %v", want, vr.Reasons)
		}
	}
}

func TestJaccardScorer_Bounds(t *testing.T) {
	s := JaccardScorer{}
	src := requestFor(models.VarianceSimilar, false).Source

	if got := s.Similarity(src, src); got != 1.0 {
		t.Errorf("self-similarity should be 1.0, got %f", got)
	}

	other := freshCandidate(2).ToQuestion()
	got := s.Similarity(src, other)
	if got < 0 || got > 1 {
		t.Errorf("similarity out of [0,1]: %f", got)
	}
}

func TestNumericTokensDiffer(t *testing.T) {
	src := validCandidate().ToQuestion()

	same := validCandidate().ToQuestion()
	if numericTokensDiffer(same, src) {
		t.Error("identical numeric content must not count as varied")
	}

	shifted := shiftedCandidate().ToQuestion()
	if !numericTokensDiffer(shifted, src) {
		t.Error("shifted numbers must count as varied")
	}
}
