package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type exportService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewExportService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

var exportHeader = []string{"Session ID", "Student ID", "Student Name", "Email", "Status", "Score", "Started At", "Deadline", "Ended At"}

// ExportExamResults renders every sitting of one exam into an XLSX
// workbook. Only the exam creator or an admin may export.
func (s *exportService) ExportExamResults(ctx context.Context, examID uint, userID string) (*bytes.Buffer, string, error) {
	s.logger.Info("Exporting exam results", "exam_id", examID, "user_id", userID)

	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, "", ErrExamNotFound
		}
		return nil, "", fmt.Errorf("failed to get exam: %w", err)
	}

	if exam.CreatedBy != userID {
		isAdmin, err := s.repo.User().HasRole(ctx, userID, models.RoleAdmin)
		if err != nil {
			return nil, "", fmt.Errorf("failed to check user role: %w", err)
		}
		if !isAdmin {
			return nil, "", NewPermissionError(userID, examID, "exam", "export", "not creator or admin")
		}
	}

	sessions, _, err := s.repo.Session().GetByExam(ctx, nil, examID, repositories.SessionFilters{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list exam sessions: %w", err)
	}

	rows, err := s.buildResultRows(ctx, sessions)
	if err != nil {
		return nil, "", err
	}

	buf, err := renderResultsWorkbook(exam, rows)
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("exam_%d_results_%s.xlsx", examID, time.Now().UTC().Format("20060102_150405"))
	s.logger.Info("Exam results exported", "exam_id", examID, "rows", len(rows), "filename", filename)
	return buf, filename, nil
}

func (s *exportService) buildResultRows(ctx context.Context, sessions []*models.StudentExam) ([]models.SessionResultRow, error) {
	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.StudentID)
	}

	byID := make(map[string]*models.User, len(ids))
	if len(ids) > 0 {
		users, err := s.repo.User().GetByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load students: %w", err)
		}
		for _, u := range users {
			byID[u.ID] = u
		}
	}

	rows := make([]models.SessionResultRow, 0, len(sessions))
	for _, session := range sessions {
		row := models.SessionResultRow{
			SessionID:  session.ID,
			StudentID:  session.StudentID,
			Status:     session.Status,
			Score:      session.Score,
			StartTime:  session.StartTime,
			SubmitTime: session.SubmitTime,
			EndedAt:    session.EndedAt,
		}
		if u, ok := byID[session.StudentID]; ok {
			row.StudentName = u.FullName
			row.StudentEmail = u.Email
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderResultsWorkbook(exam *models.Exam, rows []models.SessionResultRow) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName("Sheet1", sheet)

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to address header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, row := range rows {
		values := []interface{}{
			row.SessionID,
			row.StudentID,
			row.StudentName,
			row.StudentEmail,
			string(row.Status),
			scoreCell(row.Score),
			row.StartTime.Format(time.RFC3339),
			row.SubmitTime.Format(time.RFC3339),
			endedCell(row.EndedAt),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, fmt.Errorf("failed to address cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf, nil
}

func scoreCell(score *float64) interface{} {
	if score == nil {
		return ""
	}
	return *score
}

func endedCell(endedAt *time.Time) interface{} {
	if endedAt == nil {
		return ""
	}
	return endedAt.UTC().Format(time.RFC3339)
}
