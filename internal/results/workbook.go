// Package results persists completed sessions as rows of a tabular store
// and loads compatible datasets back for analysis.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/mathprep/aptitude/internal/model"
)

// SheetName is the single sheet holding result rows.
const SheetName = "Results"

const naCell = "N/A"

var header = []string{
	"name",
	"arithmetic_score", "arithmetic_total",
	"algebra_score", "algebra_total",
	"geometry_score", "geometry_total",
	"feedback",
}

// Workbook is the append-only results store. Appends rewrite the whole file
// (prior rows first, in original order) but do so atomically: the new
// contents go to a temp file that is renamed over the store, and a mutex
// serializes writers within the process.
type Workbook struct {
	path string
	mu   sync.Mutex
}

func NewWorkbook(path string) *Workbook {
	return &Workbook{path: path}
}

// Path returns the workbook's file path.
func (w *Workbook) Path() string {
	return w.path
}

// Append adds one row after all existing rows.
func (w *Workbook) Append(row model.ResultRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.readLocked()
	if err != nil {
		return err
	}
	rows = append(rows, row)
	return w.writeLocked(rows)
}

// Rows returns all rows in append order. A missing file is an empty store.
func (w *Workbook) Rows() ([]model.ResultRow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readLocked()
}

func (w *Workbook) readLocked() ([]model.ResultRow, error) {
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		return nil, nil
	}
	return loadXLSX(w.path)
}

func (w *Workbook) writeLocked(rows []model.ResultRow) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		cells := rowToCells(row)
		if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := w.path + ".tmp"
	tmpFile, err := os.OpenFile(filepath.Clean(tmp), os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := f.Write(tmpFile); err != nil {
		tmpFile.Close()
		os.Remove(tmp)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit workbook: %w", err)
	}
	return nil
}

func rowToCells(r model.ResultRow) []any {
	cells := []any{r.Name}
	for _, topic := range model.Topics() {
		m := r.Mark(topic)
		if m.Attempted {
			cells = append(cells, m.Score, m.Total)
		} else {
			cells = append(cells, naCell, naCell)
		}
	}
	return append(cells, r.Feedback)
}

func cellsToRow(cells []string) (model.ResultRow, error) {
	for len(cells) < len(header) {
		cells = append(cells, "")
	}

	row := model.ResultRow{
		Name:     strings.TrimSpace(cells[0]),
		Marks:    make(map[model.Topic]model.SubjectMark),
		Feedback: cells[len(header)-1],
	}
	for i, topic := range model.Topics() {
		m, err := parseMark(cells[1+2*i], cells[2+2*i])
		if err != nil {
			return model.ResultRow{}, fmt.Errorf("%s for %q: %w", topic, row.Name, err)
		}
		if m.Attempted {
			row.Marks[topic] = m
		}
	}
	return row, nil
}

// parseMark reads a score/total cell pair. Empty or N/A cells mean the
// subject was never attempted, which is distinct from a zero score.
func parseMark(scoreCell, totalCell string) (model.SubjectMark, error) {
	scoreCell = strings.TrimSpace(scoreCell)
	totalCell = strings.TrimSpace(totalCell)
	if scoreCell == "" || totalCell == "" ||
		strings.EqualFold(scoreCell, naCell) || strings.EqualFold(totalCell, naCell) {
		return model.SubjectMark{}, nil
	}

	score, err := strconv.Atoi(scoreCell)
	if err != nil {
		return model.SubjectMark{}, fmt.Errorf("bad score cell %q", scoreCell)
	}
	total, err := strconv.Atoi(totalCell)
	if err != nil {
		return model.SubjectMark{}, fmt.Errorf("bad total cell %q", totalCell)
	}
	return model.SubjectMark{Score: score, Total: total, Attempted: true}, nil
}
