// Package report exports run history to a spreadsheet.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
)

const (
	RunsSheet  = "Runs"
	StepsSheet = "Steps"

	timeLayout = "2006-01-02 15:04:05"
)

var runHeaders = []string{
	"Run ID", "Document", "Pipeline", "Run Tag", "Status", "Attempt", "Parent Run",
	"Error Kind", "Error Code", "Error Message", "Output", "Created", "Started", "Finished",
	"Invocation",
}

var stepHeaders = []string{"Run ID", "Step", "Status", "Error", "Created"}

// Build writes one row per run, and one row per step when withSteps is set.
func Build(ctx context.Context, reader storage.RunReader, filter storage.RunFilter, withSteps bool) (*excelize.File, int, error) {
	runs, err := reader.ListRuns(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", RunsSheet); err != nil {
		return nil, 0, err
	}
	writeHeader(f, RunsSheet, runHeaders)

	for i, r := range runs {
		row := i + 2
		writeRow(f, RunsSheet, row, []any{
			r.ID,
			r.SourcePath,
			r.Pipeline,
			r.RunTag,
			string(r.Status),
			r.AttemptNo,
			deref(r.ParentRunID),
			kindOf(r.ErrorKind),
			deref(r.ErrorCode),
			truncate(deref(r.ErrorMessage), 500),
			deref(r.OutPath),
			r.CreatedAt.Format(timeLayout),
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			r.InvocationID,
		})
	}
	_ = f.SetColWidth(RunsSheet, "B", "B", 48) // document
	_ = f.SetColWidth(RunsSheet, "J", "K", 48) // error, output
	_ = f.SetColWidth(RunsSheet, "L", "N", 20) // times

	if withSteps {
		if _, err := f.NewSheet(StepsSheet); err != nil {
			return nil, 0, err
		}
		writeHeader(f, StepsSheet, stepHeaders)
		row := 2
		for _, r := range runs {
			steps, err := reader.ListSteps(ctx, r.ID)
			if err != nil {
				return nil, 0, fmt.Errorf("list steps of run %d: %w", r.ID, err)
			}
			for _, s := range steps {
				writeRow(f, StepsSheet, row, []any{
					s.RunID,
					string(s.Name),
					string(s.Status),
					truncate(deref(s.ErrorMessage), 500),
					s.CreatedAt.Format(timeLayout),
				})
				row++
			}
		}
		_ = f.SetColWidth(StepsSheet, "D", "D", 60)
	}

	f.SetActiveSheet(0)
	return f, len(runs), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}

func kindOf(k *domain.ErrorKind) string {
	if k == nil {
		return ""
	}
	return string(*k)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

func truncate(v any, n int) any {
	s, ok := v.(string)
	if !ok || len(s) <= n {
		return v
	}
	return s[:n] + "..."
}
