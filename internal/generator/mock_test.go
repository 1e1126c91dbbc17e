package generator

import (
	"context"
	"testing"
)

// The mock backend exists so the whole pipeline can run without a model, so
// its output has to survive verification end to end.

func TestMockClient_FreshQuestionPassesVerification(t *testing.T) {
	req := sampleRequest()
	prompts := BuildPrompts(req, nil)

	resp, err := NewMockClient().Generate(context.Background(), prompts.System, prompts.User)
	if err != nil {
		t.Fatalf("mock generate: %v", err)
	}

	q, vr := NewVerifier(nil).Verify(resp.Content, req)
	if !vr.Accepted {
		t.Fatalf("mock output rejected: %v", vr.Reasons)
	}
	if q.Difficulty != 4 {
		t.Errorf("expected declared difficulty 4 for a harder request on source 3, got %d", q.Difficulty)
	}
	if q.SubjectID != 2 {
		t.Errorf("expected subject 2 read back from the prompt, got %d", q.SubjectID)
	}
}

func TestMockClient_NumericVariantPassesVerification(t *testing.T) {
	req := sampleRequest()
	req.NoVariance = true
	prompts := BuildPrompts(req, nil)

	resp, err := NewMockClient().Generate(context.Background(), prompts.System, prompts.User)
	if err != nil {
		t.Fatalf("mock generate: %v", err)
	}

	q, vr := NewVerifier(nil).Verify(resp.Content, req)
	if !vr.Accepted {
		t.Fatalf("numeric variant rejected: %v (similarity %f)", vr.Reasons, vr.SimilarityToSource)
	}
	if q.Difficulty != req.Source.Difficulty {
		t.Errorf("numeric-only mode pins difficulty to the source, got %d", q.Difficulty)
	}
	if vr.SimilarityToSource < StructuralFloor {
		t.Errorf("variant drifted structurally: %f", vr.SimilarityToSource)
	}
	if !numericTokensDiffer(q, req.Source) {
		t.Error("variant must shift the numeric content")
	}
}

func TestShiftNumbers(t *testing.T) {
	got := shiftNumbers("A ball dropped from 45 m takes 4.5 s (g = 10 m/s²)")
	want := "A ball dropped from 46 m takes 5.5 s (g = 11 m/s²)"
	if got != want {
		t.Errorf("shiftNumbers:\n got %q\nwant %q", got, want)
	}
}
