package models

import (
	"strings"
	"testing"
)

func validQuestion() Question {
	return Question{
		ID:           10,
		SubjectID:    2,
		QuestionType: TypeMultipleChoice,
		Title:        "A cart accelerates from rest at 2 m/s² for 3 s. What distance does it cover?",
		Options: []Option{
			{Prefix: "A", Content: "6 m"},
			{Prefix: "B", Content: "9 m"},
			{Prefix: "C", Content: "12 m"},
			{Prefix: "D", Content: "18 m"},
		},
		CorrectPrefix:     "B",
		Analysis:          "s = ½at² = ½·2·9 = 9 m.",
		Difficulty:        3,
		KnowledgePointIDs: []int64{30, 41},
	}
}

func TestValidate_ValidQuestion(t *testing.T) {
	if err := validQuestion().Validate(); err != nil {
		t.Errorf("expected valid question, got: %v", err)
	}
}

func TestValidate_BothTitlesEmpty(t *testing.T) {
	q := validQuestion()
	q.Title = ""
	q.TitleTranslated = "   "

	err := q.Validate()
	if err == nil {
		t.Fatal("expected error for empty titles")
	}
	if !strings.Contains(err.Error(), "title") {
		t.Errorf("error should mention title, got: %v", err)
	}
}

func TestValidate_WrongOptionCount(t *testing.T) {
	q := validQuestion()
	q.Options = q.Options[:3]

	if err := q.Validate(); err == nil {
		t.Error("expected error for 3 options")
	}
}

func TestValidate_WrongPrefixOrder(t *testing.T) {
	q := validQuestion()
	q.Options[1].Prefix = "E"

	err := q.Validate()
	if err == nil {
		t.Fatal("expected error for prefix E")
	}
	if !strings.Contains(err.Error(), `"E"`) {
		t.Errorf("error should name the bad prefix, got: %v", err)
	}
}

func TestValidate_CorrectPrefixNotAnOption(t *testing.T) {
	q := validQuestion()
	q.CorrectPrefix = "E"

	if err := q.Validate(); err == nil {
		t.Error("expected error for dangling correct_prefix")
	}
}

func TestValidate_DifficultyOutOfRange(t *testing.T) {
	for _, d := range []int{0, 6, -1} {
		q := validQuestion()
		q.Difficulty = d
		if err := q.Validate(); err == nil {
			t.Errorf("expected error for difficulty %d", d)
		}
	}
}

func TestValidate_EmptyKnowledgePoints(t *testing.T) {
	q := validQuestion()
	q.KnowledgePointIDs = nil

	if err := q.Validate(); err == nil {
		t.Error("expected error for empty knowledge point set")
	}
}

func TestTargetDifficulty_VarianceMapping(t *testing.T) {
	cases := []struct {
		name       string
		source     int
		variance   DifficultyVariance
		noVariance bool
		want       int
	}{
		{"easier from 3", 3, VarianceEasier, false, 2},
		{"easier floors at 1", 1, VarianceEasier, false, 1},
		{"similar keeps source", 3, VarianceSimilar, false, 3},
		{"harder from 3", 3, VarianceHarder, false, 4},
		{"harder ceils at 5", 5, VarianceHarder, false, 5},
		{"killer always 5", 2, VarianceKiller, false, 5},
		{"default is similar", 4, "", false, 4},
		{"no variance pins source", 2, VarianceKiller, true, 2},
	}

	for _, tc := range cases {
		q := validQuestion()
		q.Difficulty = tc.source
		req := GenerationRequest{Source: q, DifficultyVariance: tc.variance, NoVariance: tc.noVariance}
		if got := req.TargetDifficulty(); got != tc.want {
			t.Errorf("%s: expected target %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestSortedKnowledgePointIDs(t *testing.T) {
	q := validQuestion()
	q.KnowledgePointIDs = []int64{41, 30, 7}

	got := q.SortedKnowledgePointIDs()
	want := []int64{7, 30, 41}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// The original slice must be untouched.
	if q.KnowledgePointIDs[0] != 41 {
		t.Error("SortedKnowledgePointIDs mutated the receiver")
	}
}
