package results

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mathprep/aptitude/internal/model"
)

// ErrNoResults means finalize was invoked before any topic was completed.
var ErrNoResults = errors.New("no test results to finalize")

// ErrMissingFeedback means the submission carried no feedback text.
var ErrMissingFeedback = errors.New("feedback is required")

// Aggregator flattens a session's completed-topic results into one row and
// appends it to the workbook.
type Aggregator struct {
	wb *Workbook
}

func NewAggregator(wb *Workbook) *Aggregator {
	return &Aggregator{wb: wb}
}

// Finalize builds the session's row and persists it. The session's results
// map is left to the caller to clear once this returns successfully.
func (a *Aggregator) Finalize(name string, results map[model.Topic]model.TestResult, feedback string) (model.ResultRow, error) {
	row, err := BuildRow(name, results, feedback)
	if err != nil {
		return model.ResultRow{}, err
	}
	if err := a.wb.Append(row); err != nil {
		return model.ResultRow{}, fmt.Errorf("append result row: %w", err)
	}
	return row, nil
}

// BuildRow flattens per-topic results plus feedback into one ResultRow.
// Topics absent from the map become N/A marks, keeping "not attempted"
// distinct from "attempted, scored zero".
func BuildRow(name string, results map[model.Topic]model.TestResult, feedback string) (model.ResultRow, error) {
	if len(results) == 0 {
		return model.ResultRow{}, ErrNoResults
	}
	if strings.TrimSpace(feedback) == "" {
		return model.ResultRow{}, ErrMissingFeedback
	}

	row := model.ResultRow{
		Name:     name,
		Marks:    make(map[model.Topic]model.SubjectMark),
		Feedback: feedback,
	}
	for _, topic := range model.Topics() {
		if r, ok := results[topic]; ok {
			row.Marks[topic] = model.SubjectMark{Score: r.Score, Total: r.Total, Attempted: true}
		}
	}
	return row, nil
}
