package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestCalculateScore_MultipleChoice(t *testing.T) {
	s := &gradingService{}
	ctx := context.Background()

	content := mustJSON(t, models.MultipleChoiceContent{
		Options:        []string{"A", "B", "C", "D"},
		CorrectAnswers: []string{"B", "D"},
		AllowMultiple:  true,
	})

	tests := []struct {
		name    string
		answer  string
		correct bool
	}{
		{name: "exact match", answer: `["B","D"]`, correct: true},
		{name: "order ignored", answer: `["D","B"]`, correct: true},
		{name: "case ignored", answer: `["b","d"]`, correct: true},
		{name: "whitespace ignored", answer: `[" B ","D"]`, correct: true},
		{name: "subset is wrong", answer: `["B"]`, correct: false},
		{name: "superset is wrong", answer: `["B","D","A"]`, correct: false},
		{name: "wrong option", answer: `["A","C"]`, correct: false},
		{name: "empty selection", answer: `[]`, correct: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CalculateScore(ctx, models.MultipleChoice, content, json.RawMessage(tt.answer))
			if err != nil {
				t.Fatalf("CalculateScore() error = %v", err)
			}
			if got != tt.correct {
				t.Errorf("got %v, want %v", got, tt.correct)
			}
		})
	}
}

func TestCalculateScore_MultipleChoiceSingleString(t *testing.T) {
	s := &gradingService{}
	content := mustJSON(t, models.MultipleChoiceContent{
		Options:        []string{"A", "B", "C"},
		CorrectAnswers: []string{"B"},
	})

	got, err := s.CalculateScore(context.Background(), models.MultipleChoice, content, json.RawMessage(`"B"`))
	if err != nil {
		t.Fatalf("CalculateScore() error = %v", err)
	}
	if !got {
		t.Error("single string answer should match single correct option")
	}
}

func TestCalculateScore_TrueFalse(t *testing.T) {
	s := &gradingService{}
	ctx := context.Background()

	content := mustJSON(t, models.TrueFalseContent{CorrectAnswer: true})

	tests := []struct {
		name    string
		answer  string
		correct bool
	}{
		{name: "bool true", answer: `true`, correct: true},
		{name: "bool false", answer: `false`, correct: false},
		{name: "string true", answer: `"true"`, correct: true},
		{name: "string TRUE", answer: `"TRUE"`, correct: true},
		{name: "string false", answer: `"false"`, correct: false},
		{name: "garbage string", answer: `"maybe"`, correct: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CalculateScore(ctx, models.TrueFalse, content, json.RawMessage(tt.answer))
			if err != nil {
				t.Fatalf("CalculateScore() error = %v", err)
			}
			if got != tt.correct {
				t.Errorf("got %v, want %v", got, tt.correct)
			}
		})
	}
}

func TestCalculateScore_FillBlank(t *testing.T) {
	s := &gradingService{}
	ctx := context.Background()

	content := mustJSON(t, models.FillBlankContent{
		AcceptedAnswers: []string{"Paris", "paris, france"},
	})

	tests := []struct {
		name    string
		answer  string
		correct bool
	}{
		{name: "exact", answer: `"Paris"`, correct: true},
		{name: "case insensitive", answer: `"PARIS"`, correct: true},
		{name: "trimmed", answer: `"  paris  "`, correct: true},
		{name: "second accepted answer", answer: `"Paris, France"`, correct: true},
		{name: "wrong", answer: `"London"`, correct: false},
		{name: "empty", answer: `""`, correct: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CalculateScore(ctx, models.FillBlank, content, json.RawMessage(tt.answer))
			if err != nil {
				t.Fatalf("CalculateScore() error = %v", err)
			}
			if got != tt.correct {
				t.Errorf("got %v, want %v", got, tt.correct)
			}
		})
	}
}

func TestCalculateScore_EssayRejected(t *testing.T) {
	s := &gradingService{}
	_, err := s.CalculateScore(context.Background(), models.Essay, json.RawMessage(`{}`), json.RawMessage(`"some text"`))
	if !errors.Is(err, ErrGradingNotAllowed) {
		t.Errorf("got %v, want ErrGradingNotAllowed", err)
	}
}

func TestClampPoints(t *testing.T) {
	tests := []struct {
		name   string
		points float64
		max    float64
		want   float64
	}{
		{name: "within range", points: 1.5, max: 2.5, want: 1.5},
		{name: "negative clamps to zero", points: -1, max: 2.5, want: 0},
		{name: "above max clamps to max", points: 3, max: 2.5, want: 2.5},
		{name: "exactly max", points: 2.5, max: 2.5, want: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampPoints(tt.points, tt.max); got != tt.want {
				t.Errorf("clampPoints(%v, %v) = %v, want %v", tt.points, tt.max, got, tt.want)
			}
		})
	}
}
