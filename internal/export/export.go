package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
)

const (
	sheetPending    = "Pending Actions"
	sheetDeadLetter = "Dead Letters"

	payloadPreviewLimit = 512

	timestampLayout = "2006-01-02 15:04:05"
)

// Exporter writes queue audit workbooks for operator handoff.
type Exporter struct {
	store  domain.Store
	path   string
	logger zerolog.Logger
}

func NewExporter(store domain.Store, cfg config.ExportConfig, logger *zerolog.Logger) *Exporter {
	exportLogger := zerolog.Nop()
	if logger != nil {
		exportLogger = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{store: store, path: cfg.Path, logger: exportLogger}
}

// Audit writes one workbook with a pending-actions sheet and a dead-letter
// sheet and returns the file path.
func (e *Exporter) Audit(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	actions, err := e.store.PendingActions(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing pending actions: %v", err)
	}
	letters, err := e.store.DeadLetters(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("error listing dead letters: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writePendingSheet(f, actions); err != nil {
		return "", err
	}
	if err := writeDeadLetterSheet(f, letters); err != nil {
		return "", err
	}

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("queue_audit_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().
		Str("file_path", filePath).
		Int("pending", len(actions)).
		Int("dead_letters", len(letters)).
		Msg("queue audit exported")
	return filePath, nil
}

func writePendingSheet(f *excelize.File, actions []*models.QueuedAction) error {
	index, err := f.NewSheet(sheetPending)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	writeHeaderRow(f, sheetPending, []string{"ID", "Type", "Retries", "Last Error", "Created At", "Payload"})

	for i, action := range actions {
		row := i + 2
		_ = f.SetCellValue(sheetPending, fmt.Sprintf("A%d", row), action.ID)
		_ = f.SetCellValue(sheetPending, fmt.Sprintf("B%d", row), action.Type)
		_ = f.SetCellValue(sheetPending, fmt.Sprintf("C%d", row), action.RetryCount)
		_ = f.SetCellValue(sheetPending, fmt.Sprintf("D%d", row), strOrEmpty(action.LastError))
		_ = f.SetCellValue(sheetPending, fmt.Sprintf("E%d", row), action.CreatedAt.Format(timestampLayout))
		_ = f.SetCellValue(sheetPending, fmt.Sprintf("F%d", row), payloadPreview(action.Payload))
	}

	_ = f.SetColWidth(sheetPending, "A", "A", 38)
	_ = f.SetColWidth(sheetPending, "B", "B", 18)
	_ = f.SetColWidth(sheetPending, "C", "C", 10)
	_ = f.SetColWidth(sheetPending, "D", "D", 40)
	_ = f.SetColWidth(sheetPending, "E", "E", 20)
	_ = f.SetColWidth(sheetPending, "F", "F", 60)
	return nil
}

func writeDeadLetterSheet(f *excelize.File, letters []*models.DeadLetterAction) error {
	if _, err := f.NewSheet(sheetDeadLetter); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	writeHeaderRow(f, sheetDeadLetter, []string{
		"ID", "Type", "Reason", "Retries", "Last Error", "Created At", "Failed At", "Payload",
	})

	for i, letter := range letters {
		row := i + 2
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("A%d", row), letter.ID)
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("B%d", row), letter.Type)
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("C%d", row), letter.Reason)
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("D%d", row), letter.RetryCount)
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("E%d", row), strOrEmpty(letter.LastError))
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("F%d", row), letter.CreatedAt.Format(timestampLayout))
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("G%d", row), letter.FailedAt.Format(timestampLayout))
		_ = f.SetCellValue(sheetDeadLetter, fmt.Sprintf("H%d", row), payloadPreview(letter.Payload))

		if styleID, err := reasonStyle(f, letter.Reason); err == nil {
			cell := fmt.Sprintf("C%d", row)
			_ = f.SetCellStyle(sheetDeadLetter, cell, cell, styleID)
		}
	}

	_ = f.SetColWidth(sheetDeadLetter, "A", "A", 38)
	_ = f.SetColWidth(sheetDeadLetter, "B", "B", 18)
	_ = f.SetColWidth(sheetDeadLetter, "C", "C", 20)
	_ = f.SetColWidth(sheetDeadLetter, "D", "D", 10)
	_ = f.SetColWidth(sheetDeadLetter, "E", "E", 40)
	_ = f.SetColWidth(sheetDeadLetter, "F", "F", 20)
	_ = f.SetColWidth(sheetDeadLetter, "G", "G", 20)
	_ = f.SetColWidth(sheetDeadLetter, "H", "H", 60)
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

// reasonStyle marks terminal failures: red for exhausted retries, yellow
// for a missing handler.
func reasonStyle(f *excelize.File, reason string) (int, error) {
	color := "#FFC7CE"
	if reason == models.DeadLetterHandlerMissing {
		color = "#FFEB9C"
	}
	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
}

func payloadPreview(payload json.RawMessage) string {
	s := string(payload)
	if len(s) > payloadPreviewLimit {
		return s[:payloadPreviewLimit] + "..."
	}
	return s
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
