package services

import (
	"math"
	"math/rand"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// BuildAnswerSheet computes the weighted ExamQuestion rows for an exam.
// Every selected question's authoring-time point is scaled so the sheet sums
// to the exam's fixed points total, then rounded to 2 decimals. The caller
// persists the rows; this function only computes them.
//
// total > 0 limits how many questions make the sheet; randomize picks them
// in uniform random order without repeats, otherwise input order is kept.
func BuildAnswerSheet(exam *models.Exam, questions []*models.Question, total int, randomize bool) ([]*models.ExamQuestion, error) {
	selected := questions
	if randomize {
		selected = shuffleQuestions(questions)
	}
	if total > 0 && total < len(selected) {
		selected = selected[:total]
	}

	if len(selected) == 0 {
		return nil, ErrInvalidComposition
	}

	pointSum := 0.0
	for _, q := range selected {
		pointSum += q.Point
	}
	if pointSum <= 0 {
		return nil, ErrInvalidComposition
	}

	scale := exam.TotalPoints / pointSum

	rows := make([]*models.ExamQuestion, len(selected))
	weightedSum := 0.0
	for i, q := range selected {
		points := roundPoints(q.Point * scale)
		weightedSum += points
		rows[i] = &models.ExamQuestion{
			ExamID:     exam.ID,
			QuestionID: q.ID,
			Order:      i + 1,
			Points:     points,
		}
	}

	// Per-question rounding may drift the sum; beyond the tolerance the
	// composition cannot be represented in 2 decimals.
	tolerance := 0.01 * float64(len(selected))
	if math.Abs(weightedSum-exam.TotalPoints) > tolerance {
		return nil, ErrInvalidComposition
	}

	return rows, nil
}

// roundPoints rounds to 2 decimal places. All point allocation happens here;
// grading only copies the already-rounded values.
func roundPoints(v float64) float64 {
	return math.Round(v*100) / 100
}

func shuffleQuestions(questions []*models.Question) []*models.Question {
	shuffled := make([]*models.Question, len(questions))
	copy(shuffled, questions)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}
