package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mathprep/aptitude/internal/model"
)

// ErrUnsupportedFormat means the dataset extension is neither .csv nor .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// SupportedExt reports whether a filename has a loadable extension.
func SupportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// LoadDataset reads a tabular file with the results row schema. The first
// row is the header and is skipped.
func LoadDataset(path string) ([]model.ResultRow, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return loadCSV(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func loadCSV(path string) ([]model.ResultRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []model.ResultRow
	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset row %d: %w", rowNum+1, err)
		}
		rowNum++
		if rowNum == 1 {
			continue
		}
		row, err := cellsToRow(record)
		if err != nil {
			return nil, fmt.Errorf("dataset row %d: %w", rowNum, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func loadXLSX(path string) ([]model.ResultRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	// Our own store uses the Results sheet; arbitrary uploads may not, so
	// fall back to the first sheet.
	sheet := SheetName
	if idx, err := f.GetSheetIndex(SheetName); err != nil || idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("dataset has no sheets")
		}
		sheet = sheets[0]
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var rows []model.ResultRow
	for i, record := range raw {
		if i == 0 {
			continue
		}
		row, err := cellsToRow(record)
		if err != nil {
			return nil, fmt.Errorf("dataset row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
