// Package analysis is the consumer stage: it ranks students per subject,
// tallies feedback sentiment, and renders per-student radar charts.
package analysis

import (
	"sort"

	"github.com/jonreiter/govader"

	"github.com/mathprep/aptitude/internal/model"
)

// Sentiment classification thresholds on the compound score, inclusive.
const (
	positiveThreshold = 0.05
	negativeThreshold = -0.05
)

// CompoundScorer produces a compound sentiment score in [-1, 1] for a
// feedback string.
type CompoundScorer interface {
	Compound(text string) float64
}

type vaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func (v vaderScorer) Compound(text string) float64 {
	return v.analyzer.PolarityScores(text).Compound
}

// Engine runs the analysis pipeline over a loaded dataset.
type Engine struct {
	scorer    CompoundScorer
	staticDir string
}

// New creates an Engine backed by the VADER lexicon analyzer. Chart
// artifacts are written under staticDir.
func New(staticDir string) *Engine {
	return &Engine{
		scorer:    vaderScorer{analyzer: govader.NewSentimentIntensityAnalyzer()},
		staticDir: staticDir,
	}
}

// Ranked is one student's position in a subject ranking.
type Ranked struct {
	Record     model.StudentRecord
	Percentage float64
}

// Rank orders records by descending percentage for the subject. Records
// whose subject total is zero or N/A are excluded before any division, so
// a 0/0 record can never rank (or divide by zero). Ties keep input order.
func (e *Engine) Rank(records []model.StudentRecord, subject model.Topic) []Ranked {
	var ranked []Ranked
	for _, r := range records {
		pct, ok := r.Mark(subject).Percentage()
		if !ok {
			continue
		}
		ranked = append(ranked, Ranked{Record: r, Percentage: pct})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Percentage > ranked[j].Percentage
	})
	return ranked
}

// ClassifySentiment tallies feedback strings by compound polarity:
// >= 0.05 positive, <= -0.05 negative. Anything strictly between counts
// toward neither bucket.
func (e *Engine) ClassifySentiment(feedbacks []string) model.SentimentTally {
	var tally model.SentimentTally
	for _, fb := range feedbacks {
		compound := e.scorer.Compound(fb)
		switch {
		case compound >= positiveThreshold:
			tally.Positive++
		case compound <= negativeThreshold:
			tally.Negative++
		}
	}
	return tally
}
