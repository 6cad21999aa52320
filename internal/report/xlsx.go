package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetTranscript = "Ответы"
	sheetGrade      = "Расчет грейда"
)

// WriteXLSX exports the report as a workbook with a transcript sheet and a grade sheet.
func WriteXLSX(w io.Writer, rep *Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	transcript := f.GetSheetName(0)
	if err := f.SetSheetName(transcript, sheetTranscript); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headers := []string{"question_id", "section", "question", "answer", "level", "hay_definition"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetTranscript, cell, h)
	}
	for i, e := range rep.Entries {
		row := i + 2
		values := []any{e.QuestionID, e.Section, e.QuestionText, e.Answer, e.Level, e.HayDefinition}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetTranscript, cell, v)
		}
	}
	_ = f.SetColWidth(sheetTranscript, "A", "B", 14)
	_ = f.SetColWidth(sheetTranscript, "C", "F", 48)

	if _, err := f.NewSheet(sheetGrade); err != nil {
		return fmt.Errorf("create grade sheet: %w", err)
	}
	rows := gradeRows(rep)
	for i, kv := range rows {
		_ = f.SetCellValue(sheetGrade, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(sheetGrade, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(sheetGrade, "A", "A", 28)
	_ = f.SetColWidth(sheetGrade, "B", "B", 60)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write excel: %w", err)
	}
	return nil
}

func gradeRows(rep *Report) [][2]any {
	rows := [][2]any{
		{"user_id", rep.UserID},
		{"session_id", rep.SessionID},
		{"generated_at", rep.GeneratedAt.Format("2006-01-02 15:04:05")},
	}
	if rep.Graded() {
		g := rep.Grade
		return append(rows,
			[2]any{"P1", g.P1},
			[2]any{"P2", g.P2},
			[2]any{"P3", g.P3},
			[2]any{"P4", g.P4},
			[2]any{"P4 table", g.P4Path},
			[2]any{"total", g.Total},
			[2]any{"grade", g.Grade},
			[2]any{"range", g.Range},
		)
	}
	rows = append(rows, [2]any{"error", rep.GradeError})
	for _, note := range rep.Notes {
		rows = append(rows, [2]any{"diagnostic", note})
	}
	return rows
}
