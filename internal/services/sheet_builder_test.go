package services

import (
	"errors"
	"math"
	"testing"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

func testExam() *models.Exam {
	return &models.Exam{
		ID:          1,
		TotalPoints: models.DefaultTotalPoints,
	}
}

func testQuestions(points ...float64) []*models.Question {
	questions := make([]*models.Question, len(points))
	for i, p := range points {
		questions[i] = &models.Question{
			ID:    uint(i + 1),
			Point: p,
		}
	}
	return questions
}

func TestBuildAnswerSheet_Scaling(t *testing.T) {
	tests := []struct {
		name       string
		points     []float64
		wantPoints []float64
	}{
		{
			name:       "equal weights",
			points:     []float64{1, 1, 1, 1},
			wantPoints: []float64{2.5, 2.5, 2.5, 2.5},
		},
		{
			name:       "uneven weights",
			points:     []float64{1, 3},
			wantPoints: []float64{2.5, 7.5},
		},
		{
			name:       "already summing to total",
			points:     []float64{4, 6},
			wantPoints: []float64{4, 6},
		},
		{
			name:       "rounding to 2 decimals",
			points:     []float64{1, 1, 1},
			wantPoints: []float64{3.33, 3.33, 3.33},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := BuildAnswerSheet(testExam(), testQuestions(tt.points...), 0, false)
			if err != nil {
				t.Fatalf("BuildAnswerSheet() error = %v", err)
			}
			if len(rows) != len(tt.wantPoints) {
				t.Fatalf("got %d rows, want %d", len(rows), len(tt.wantPoints))
			}
			for i, row := range rows {
				if row.Points != tt.wantPoints[i] {
					t.Errorf("row %d: got %v points, want %v", i, row.Points, tt.wantPoints[i])
				}
				if row.Order != i+1 {
					t.Errorf("row %d: got order %d, want %d", i, row.Order, i+1)
				}
				if row.QuestionID != testQuestions(tt.points...)[i].ID {
					t.Errorf("row %d: question id mismatch", i)
				}
			}
		})
	}
}

func TestBuildAnswerSheet_SumTolerance(t *testing.T) {
	// Rounding drift must stay within 0.01 per question
	points := []float64{1, 1, 1, 1, 1, 1, 1}
	rows, err := BuildAnswerSheet(testExam(), testQuestions(points...), 0, false)
	if err != nil {
		t.Fatalf("BuildAnswerSheet() error = %v", err)
	}

	sum := 0.0
	for _, row := range rows {
		sum += row.Points
	}
	tolerance := 0.01 * float64(len(points))
	if math.Abs(sum-models.DefaultTotalPoints) > tolerance {
		t.Errorf("sheet sums to %v, want within %v of %v", sum, tolerance, models.DefaultTotalPoints)
	}
}

func TestBuildAnswerSheet_InvalidComposition(t *testing.T) {
	tests := []struct {
		name      string
		questions []*models.Question
	}{
		{name: "no questions", questions: nil},
		{name: "zero point sum", questions: testQuestions(0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildAnswerSheet(testExam(), tt.questions, 0, false)
			if !errors.Is(err, ErrInvalidComposition) {
				t.Errorf("got %v, want ErrInvalidComposition", err)
			}
		})
	}
}

func TestBuildAnswerSheet_TotalLimit(t *testing.T) {
	rows, err := BuildAnswerSheet(testExam(), testQuestions(1, 1, 1, 1), 2, false)
	if err != nil {
		t.Fatalf("BuildAnswerSheet() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// The remaining questions carry the full total between them
	if rows[0].Points != 5 || rows[1].Points != 5 {
		t.Errorf("got points %v, %v, want 5, 5", rows[0].Points, rows[1].Points)
	}
}

func TestBuildAnswerSheet_RandomizeNoRepeats(t *testing.T) {
	questions := testQuestions(1, 2, 3, 4, 5)
	rows, err := BuildAnswerSheet(testExam(), questions, 0, true)
	if err != nil {
		t.Fatalf("BuildAnswerSheet() error = %v", err)
	}
	if len(rows) != len(questions) {
		t.Fatalf("got %d rows, want %d", len(rows), len(questions))
	}

	seen := make(map[uint]bool)
	for _, row := range rows {
		if seen[row.QuestionID] {
			t.Errorf("question %d appears twice", row.QuestionID)
		}
		seen[row.QuestionID] = true
	}
	// Input order must be preserved in the source slice
	for i, q := range questions {
		if q.ID != uint(i+1) {
			t.Errorf("input slice was mutated at %d", i)
		}
	}
}
