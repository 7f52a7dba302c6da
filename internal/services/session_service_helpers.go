package services

import (
	"encoding/json"
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"gorm.io/datatypes"
)

// sanitizeQuestionContent strips everything that would give the answer away
// before a question leaves the service toward a sitting student.
func sanitizeQuestionContent(qType models.QuestionType, content datatypes.JSON) (json.RawMessage, error) {
	if len(content) == 0 {
		return nil, nil
	}

	switch qType {
	case models.MultipleChoice:
		var mc models.MultipleChoiceContent
		if err := json.Unmarshal(content, &mc); err != nil {
			return nil, fmt.Errorf("invalid multiple choice content: %w", err)
		}
		return json.Marshal(map[string]interface{}{
			"options":        mc.Options,
			"allow_multiple": mc.AllowMultiple,
		})

	case models.TrueFalse, models.FillBlank:
		// Nothing safe to show beyond the question text
		return nil, nil

	case models.Essay:
		// Word limits are for the student, keep them
		return json.RawMessage(content), nil

	default:
		return nil, fmt.Errorf("unknown question type: %d", qType)
	}
}
