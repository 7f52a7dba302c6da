package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ===== TYPE-SPECIFIC GRADERS =====

// gradeMultipleChoice compares selected options against the correct set,
// ignoring order and case. The student payload may be a JSON array or a
// single string.
func (s *gradingService) gradeMultipleChoice(content, studentAnswer json.RawMessage) (bool, error) {
	var mc models.MultipleChoiceContent
	if err := json.Unmarshal(content, &mc); err != nil {
		return false, fmt.Errorf("invalid multiple choice content: %w", err)
	}

	selected, err := decodeStringSet(studentAnswer)
	if err != nil {
		return false, fmt.Errorf("invalid multiple choice answer: %w", err)
	}
	if len(selected) == 0 {
		return false, nil
	}

	return reflect.DeepEqual(normalizeStringSet(selected), normalizeStringSet(mc.CorrectAnswers)), nil
}

func (s *gradingService) gradeTrueFalse(content, studentAnswer json.RawMessage) (bool, error) {
	var tf models.TrueFalseContent
	if err := json.Unmarshal(content, &tf); err != nil {
		return false, fmt.Errorf("invalid true/false content: %w", err)
	}

	var answer bool
	if err := json.Unmarshal(studentAnswer, &answer); err != nil {
		// Tolerate "true"/"false" sent as a string
		var str string
		if err2 := json.Unmarshal(studentAnswer, &str); err2 != nil {
			return false, fmt.Errorf("invalid true/false answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(str)) {
		case "true":
			answer = true
		case "false":
			answer = false
		default:
			return false, nil
		}
	}

	return answer == tf.CorrectAnswer, nil
}

// gradeFillBlank matches the trimmed, lowercased student text against any
// accepted answer.
func (s *gradingService) gradeFillBlank(content, studentAnswer json.RawMessage) (bool, error) {
	var fb models.FillBlankContent
	if err := json.Unmarshal(content, &fb); err != nil {
		return false, fmt.Errorf("invalid fill blank content: %w", err)
	}

	var answer string
	if err := json.Unmarshal(studentAnswer, &answer); err != nil {
		return false, fmt.Errorf("invalid fill blank answer: %w", err)
	}

	got := strings.ToLower(strings.TrimSpace(answer))
	if got == "" {
		return false, nil
	}
	for _, accepted := range fb.AcceptedAnswers {
		if got == strings.ToLower(strings.TrimSpace(accepted)) {
			return true, nil
		}
	}
	return false, nil
}

// ===== ANSWER DECODING =====

// decodeStringSet accepts either ["A","B"] or "A"
func decodeStringSet(raw json.RawMessage) ([]string, error) {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []string{one}, nil
}

// normalizeStringSet trims, lowercases and sorts a copy for comparison
func normalizeStringSet(values []string) []string {
	normalized := make([]string, len(values))
	for i, v := range values {
		normalized[i] = strings.ToLower(strings.TrimSpace(v))
	}
	sort.Strings(normalized)
	return normalized
}
