package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"offerwatch/internal"
)

const (
	statsSheet   = "Stats"
	summarySheet = "Summary"
)

// ExportStatsToXLSX writes the records and their summary to a workbook with
// one sheet each.
func ExportStatsToXLSX(recs []internal.StatRecord, sum internal.StatsSummary, outputPath string) error {
	const opn = "pipeline.ExportStatsToXLSX"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), statsSheet); err != nil {
		return fmt.Errorf("%s: %w", opn, err)
	}
	headers := []string{"created_at", "status", "reason", "product_type", "subject", "from", "id"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(statsSheet, cell, h)
	}
	for i, rec := range recs {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(statsSheet, cell, value)
		}
		set(1, rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		set(2, string(rec.Status))
		set(3, rec.Reason)
		set(4, string(rec.ProductType))
		set(5, rec.Subject)
		set(6, rec.From)
		set(7, rec.ID)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("%s: %w", opn, err)
	}
	summary := [][]any{
		{"days", sum.Days},
		{"processed", sum.Processed},
		{"accepted", sum.Accepted},
		{"rejected", sum.Rejected},
	}
	for i, row := range summary {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(summarySheet, cell, v)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("%s: %w", opn, err)
	}
	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("%s: %w", opn, err)
	}
	return nil
}
