package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mathprep/aptitude/internal/model"
)

// fixedScorer returns canned compounds per feedback string.
type fixedScorer map[string]float64

func (f fixedScorer) Compound(text string) float64 { return f[text] }

func record(name string, arithmeticScore, arithmeticTotal int) model.StudentRecord {
	return model.StudentRecord{
		Name: name,
		Marks: map[model.Topic]model.SubjectMark{
			model.TopicArithmetic: {Score: arithmeticScore, Total: arithmeticTotal, Attempted: true},
		},
	}
}

func TestRankDescendingByPercentage(t *testing.T) {
	e := New(t.TempDir())
	records := []model.StudentRecord{
		record("Bob", 6, 10),
		record("Alice", 8, 10),
	}

	ranked := e.Rank(records, model.TopicArithmetic)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked records, got %d", len(ranked))
	}
	if ranked[0].Record.Name != "Alice" || ranked[0].Percentage != 80 {
		t.Errorf("first = %s (%.0f%%), want Alice (80%%)", ranked[0].Record.Name, ranked[0].Percentage)
	}
	if ranked[1].Record.Name != "Bob" || ranked[1].Percentage != 60 {
		t.Errorf("second = %s (%.0f%%), want Bob (60%%)", ranked[1].Record.Name, ranked[1].Percentage)
	}
}

func TestRankExcludesZeroAndAbsentTotals(t *testing.T) {
	e := New(t.TempDir())
	records := []model.StudentRecord{
		record("Alice", 8, 10),
		record("Bob", 9, 10),
		record("Carol", 0, 0), // attempted but zero total: must not divide
		{Name: "Dan", Marks: map[model.Topic]model.SubjectMark{}}, // N/A
	}

	ranked := e.Rank(records, model.TopicArithmetic)
	if len(ranked) != 2 {
		t.Fatalf("expected [Bob, Alice], got %d records", len(ranked))
	}
	if ranked[0].Record.Name != "Bob" || ranked[1].Record.Name != "Alice" {
		t.Errorf("order = [%s, %s], want [Bob, Alice]", ranked[0].Record.Name, ranked[1].Record.Name)
	}
}

func TestRankStableOnTies(t *testing.T) {
	e := New(t.TempDir())
	records := []model.StudentRecord{
		record("First", 5, 10),
		record("Second", 5, 10),
	}

	ranked := e.Rank(records, model.TopicArithmetic)
	if ranked[0].Record.Name != "First" || ranked[1].Record.Name != "Second" {
		t.Errorf("tie order changed: [%s, %s]", ranked[0].Record.Name, ranked[1].Record.Name)
	}
}

func TestClassifySentimentThresholds(t *testing.T) {
	scorer := fixedScorer{
		"exactly positive": 0.05,
		"exactly negative": -0.05,
		"neutral":          0.0,
		"barely under":     0.049,
		"barely over":      -0.049,
	}
	e := &Engine{scorer: scorer}

	tally := e.ClassifySentiment([]string{
		"exactly positive", "exactly negative", "neutral", "barely under", "barely over",
	})
	if tally.Positive != 1 {
		t.Errorf("positive = %d, want 1 (only the inclusive 0.05)", tally.Positive)
	}
	if tally.Negative != 1 {
		t.Errorf("negative = %d, want 1 (only the inclusive -0.05)", tally.Negative)
	}
}

func TestClassifySentimentScenario(t *testing.T) {
	scorer := fixedScorer{
		"great job":           0.8,
		"terrible experience": -0.7,
		"it was ok":           0.0,
	}
	e := &Engine{scorer: scorer}

	tally := e.ClassifySentiment([]string{"great job", "terrible experience", "it was ok"})
	if tally.Positive != 1 || tally.Negative != 1 {
		t.Errorf("tally = %+v, want positive=1 negative=1", tally)
	}
}

func TestClassifySentimentVader(t *testing.T) {
	e := New(t.TempDir())

	tally := e.ClassifySentiment([]string{
		"this was a great and wonderful test, I loved it",
		"horrible, terrible, awful experience",
	})
	if tally.Positive != 1 {
		t.Errorf("positive = %d, want 1", tally.Positive)
	}
	if tally.Negative != 1 {
		t.Errorf("negative = %d, want 1", tally.Negative)
	}
}

func TestRenderStudentChart(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	rec := model.StudentRecord{
		Name: "Alice",
		Marks: map[model.Topic]model.SubjectMark{
			model.TopicArithmetic: {Score: 8, Total: 10, Attempted: true},
			model.TopicAlgebra:    {Score: 5, Total: 10, Attempted: true},
			// Geometry unattempted: plotted as zero radius.
		},
	}

	path, err := e.RenderStudentChart("Alice", rec)
	if err != nil {
		t.Fatalf("RenderStudentChart: %v", err)
	}
	if filepath.Base(path) != "Alice_radar_chart.png" {
		t.Errorf("chart file = %q, want Alice_radar_chart.png", filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat chart: %v", err)
	}
	if info.Size() == 0 {
		t.Error("chart file is empty")
	}

	// Recomputation overwrites in place.
	again, err := e.RenderStudentChart("Alice", rec)
	if err != nil {
		t.Fatalf("RenderStudentChart (again): %v", err)
	}
	if again != path {
		t.Errorf("recomputed path %q differs from %q", again, path)
	}
}

func TestChartFileName(t *testing.T) {
	if got := chartFileName("Bob"); got != "Bob_radar_chart.png" {
		t.Errorf("chartFileName(Bob) = %q", got)
	}
	if got := chartFileName("../evil"); got != ".._evil_radar_chart.png" {
		t.Errorf("chartFileName should neutralize separators, got %q", got)
	}
}
