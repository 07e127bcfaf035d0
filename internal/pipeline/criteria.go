package pipeline

import (
	"fmt"
	"strings"

	"offerwatch/internal"
	"offerwatch/internal/util"
)

// Criteria workbooks carry a header row naming the fields; column order is
// free and unknown columns are ignored. Header names are matched without
// case, spaces, dashes or underscores ("RAM from", "ram_from", "ramFrom").

func headerKey(s string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

type sheetTable struct {
	cols map[string]int
	rows [][]string
}

func newSheetTable(content []byte) (sheetTable, error) {
	rows, err := SheetRows(content)
	if err != nil {
		return sheetTable{}, err
	}
	if len(rows) == 0 {
		return sheetTable{}, fmt.Errorf("pipeline: criteria sheet is empty")
	}
	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[headerKey(h)] = i
	}
	return sheetTable{cols: cols, rows: rows[1:]}, nil
}

func (t sheetTable) get(row []string, key string) string {
	i, ok := t.cols[key]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t sheetTable) require(keys ...string) error {
	for _, k := range keys {
		if _, ok := t.cols[k]; !ok {
			return fmt.Errorf("pipeline: criteria sheet lacks column %q", k)
		}
	}
	return nil
}

func ReadLaptopCriteria(content []byte) ([]internal.LaptopCriterion, error) {
	t, err := newSheetTable(content)
	if err != nil {
		return nil, err
	}
	if err := t.require("model"); err != nil {
		return nil, err
	}
	var out []internal.LaptopCriterion
	for _, row := range t.rows {
		c := internal.LaptopCriterion{
			ID:            t.get(row, "id"),
			Model:         t.get(row, "model"),
			RAMFrom:       t.get(row, "ramfrom"),
			RAMTo:         t.get(row, "ramto"),
			StorageFrom:   t.get(row, "storagefrom"),
			StorageTo:     t.get(row, "storageto"),
			GradeFrom:     strings.ToUpper(t.get(row, "gradefrom")),
			GradeTo:       strings.ToUpper(t.get(row, "gradeto")),
			GraphicsCard:  t.get(row, "graphicscard"),
			MaxPriceWorst: t.get(row, "maxpriceworst"),
			MaxPriceBest:  t.get(row, "maxpricebest"),
		}
		if c.Model == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func ReadMonitorCriteria(content []byte) ([]internal.MonitorCriterion, error) {
	t, err := newSheetTable(content)
	if err != nil {
		return nil, err
	}
	var out []internal.MonitorCriterion
	for i, row := range t.rows {
		c := internal.MonitorCriterion{
			ID:            t.get(row, "id"),
			ResolutionMin: t.get(row, "resolutionmin"),
			ResolutionMax: t.get(row, "resolutionmax"),
			MaxPrice:      t.get(row, "maxprice"),
		}
		if c.SizeInchesMin, err = optionalFloat(t.get(row, "sizeinchesmin")); err != nil {
			return nil, fmt.Errorf("pipeline: monitor row %d: %w", i+2, err)
		}
		if c.SizeInchesMax, err = optionalFloat(t.get(row, "sizeinchesmax")); err != nil {
			return nil, fmt.Errorf("pipeline: monitor row %d: %w", i+2, err)
		}
		if c.SizeInchesMin == nil && c.SizeInchesMax == nil && c.ResolutionMin == "" && c.ResolutionMax == "" && c.MaxPrice == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func ReadDesktopCriteria(content []byte) ([]internal.DesktopCriterion, error) {
	t, err := newSheetTable(content)
	if err != nil {
		return nil, err
	}
	if err := t.require("casetype"); err != nil {
		return nil, err
	}
	var out []internal.DesktopCriterion
	for _, row := range t.rows {
		c := internal.DesktopCriterion{
			ID:          t.get(row, "id"),
			CaseType:    t.get(row, "casetype"),
			RAMFrom:     t.get(row, "ramfrom"),
			RAMTo:       t.get(row, "ramto"),
			StorageFrom: t.get(row, "storagefrom"),
			StorageTo:   t.get(row, "storageto"),
			MaxPrice:    t.get(row, "maxprice"),
		}
		if c.CaseType == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(strings.TrimRight(s, `"`))
	if s == "" {
		return nil, nil
	}
	v, ok := util.ParseNumber(s)
	if !ok {
		return nil, fmt.Errorf("size %q is not a number", s)
	}
	return &v, nil
}
