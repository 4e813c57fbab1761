package results

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mathprep/aptitude/internal/model"
)

func testRow(name string, arithmetic, algebra, geometry *model.SubjectMark, feedback string) model.ResultRow {
	row := model.ResultRow{Name: name, Marks: make(map[model.Topic]model.SubjectMark), Feedback: feedback}
	if arithmetic != nil {
		row.Marks[model.TopicArithmetic] = *arithmetic
	}
	if algebra != nil {
		row.Marks[model.TopicAlgebra] = *algebra
	}
	if geometry != nil {
		row.Marks[model.TopicGeometry] = *geometry
	}
	return row
}

func mark(score, total int) *model.SubjectMark {
	return &model.SubjectMark{Score: score, Total: total, Attempted: true}
}

func TestWorkbookAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all_tests_results.xlsx")
	wb := NewWorkbook(path)

	// Empty store reads as no rows.
	rows, err := wb.Rows()
	if err != nil {
		t.Fatalf("Rows on empty store: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows, got %d", len(rows))
	}

	alice := testRow("Alice", mark(8, 10), mark(5, 10), nil, "great job")
	if err := wb.Append(alice); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err = wb.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !reflect.DeepEqual(rows[0], alice) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", rows[0], alice)
	}
	// Geometry was never attempted and must come back as N/A, not zero.
	if rows[0].Mark(model.TopicGeometry).Attempted {
		t.Error("geometry should be unattempted")
	}
}

func TestWorkbookAppendPreservesPriorRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	wb := NewWorkbook(path)

	alice := testRow("Alice", mark(8, 10), nil, nil, "good")
	bob := testRow("Bob", mark(6, 10), nil, nil, "bad")
	carol := testRow("Carol", nil, mark(3, 5), nil, "ok I guess")

	for _, row := range []model.ResultRow{alice, bob} {
		if err := wb.Append(row); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	before, err := wb.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}

	if err := wb.Append(carol); err != nil {
		t.Fatalf("Append: %v", err)
	}
	after, err := wb.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}

	if len(after) != len(before)+1 {
		t.Fatalf("expected %d rows, got %d", len(before)+1, len(after))
	}
	for i := range before {
		if !reflect.DeepEqual(after[i], before[i]) {
			t.Errorf("prior row %d changed:\n got %+v\nwant %+v", i, after[i], before[i])
		}
	}
	if !reflect.DeepEqual(after[len(after)-1], carol) {
		t.Errorf("appended row mismatch: %+v", after[len(after)-1])
	}

	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not survive a commit")
	}
}

func TestBuildRow(t *testing.T) {
	results := map[model.Topic]model.TestResult{
		model.TopicArithmetic: {Topic: model.TopicArithmetic, Score: 4, Total: 5},
	}

	row, err := BuildRow("Alice", results, "nice test")
	if err != nil {
		t.Fatalf("BuildRow: %v", err)
	}
	m := row.Mark(model.TopicArithmetic)
	if !m.Attempted || m.Score != 4 || m.Total != 5 {
		t.Errorf("arithmetic mark = %+v", m)
	}
	for _, topic := range []model.Topic{model.TopicAlgebra, model.TopicGeometry} {
		if row.Mark(topic).Attempted {
			t.Errorf("%s should be unattempted", topic)
		}
	}

	if _, err := BuildRow("Alice", nil, "feedback"); !errors.Is(err, ErrNoResults) {
		t.Errorf("empty results: expected ErrNoResults, got %v", err)
	}
	if _, err := BuildRow("Alice", results, "   "); !errors.Is(err, ErrMissingFeedback) {
		t.Errorf("blank feedback: expected ErrMissingFeedback, got %v", err)
	}
}

func TestAggregatorFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	agg := NewAggregator(NewWorkbook(path))

	results := map[model.Topic]model.TestResult{
		model.TopicAlgebra: {Topic: model.TopicAlgebra, Score: 2, Total: 5},
	}
	row, err := agg.Finalize("Bob", results, "tough one")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if row.Name != "Bob" {
		t.Errorf("name = %q", row.Name)
	}

	rows, err := NewWorkbook(path).Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 persisted row, got %d", len(rows))
	}
}

func TestLoadDatasetCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.csv")
	content := "name,arithmetic_score,arithmetic_total,algebra_score,algebra_total,geometry_score,geometry_total,feedback\n" +
		"Alice,8,10,5,10,N/A,N/A,great job\n" +
		"Bob,6,10,N/A,N/A,2,5,terrible experience\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	rows, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Name != "Alice" || rows[1].Name != "Bob" {
		t.Errorf("row order not preserved: %q, %q", rows[0].Name, rows[1].Name)
	}
	if m := rows[0].Mark(model.TopicArithmetic); m.Score != 8 || m.Total != 10 {
		t.Errorf("Alice arithmetic = %+v", m)
	}
	if rows[0].Mark(model.TopicGeometry).Attempted {
		t.Error("Alice geometry should be N/A")
	}
	if rows[1].Feedback != "terrible experience" {
		t.Errorf("Bob feedback = %q", rows[1].Feedback)
	}
}

func TestLoadDatasetXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	wb := NewWorkbook(path)
	want := testRow("Dana", mark(3, 5), mark(4, 5), mark(5, 5), "it was ok")
	if err := wb.Append(want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if len(rows) != 1 || !reflect.DeepEqual(rows[0], want) {
		t.Errorf("got %+v, want %+v", rows, want)
	}
}

func TestLoadDatasetUnsupportedExtension(t *testing.T) {
	for _, name := range []string{"data.txt", "data.xls", "data"} {
		_, err := LoadDataset(filepath.Join(t.TempDir(), name))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%s: expected ErrUnsupportedFormat, got %v", name, err)
		}
	}
}

func TestSupportedExt(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"results.csv", true},
		{"Results.XLSX", true},
		{"results.xls", false},
		{"results.pdf", false},
		{"results", false},
	}
	for _, tt := range tests {
		if got := SupportedExt(tt.name); got != tt.want {
			t.Errorf("SupportedExt(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
