package model

import (
	"context"
	"time"
)

// Topic identifies one of the fixed subjects under test.
type Topic string

const (
	TopicArithmetic Topic = "arithmetic"
	TopicAlgebra    Topic = "algebra"
	TopicGeometry   Topic = "geometry"
)

// Topics returns all known topics in canonical (column) order.
func Topics() []Topic {
	return []Topic{TopicArithmetic, TopicAlgebra, TopicGeometry}
}

// ParseTopic maps a request parameter to a known topic.
func ParseTopic(s string) (Topic, bool) {
	switch Topic(s) {
	case TopicArithmetic, TopicAlgebra, TopicGeometry:
		return Topic(s), true
	}
	return "", false
}

// QuestionSet holds the parallel question and answer-key sequences generated
// for a single topic. The two slices are always the same length.
type QuestionSet struct {
	Topic     Topic    `json:"topic"`
	Questions []string `json:"questions"`
	Answers   []string `json:"answers"`
}

// TestResult is the outcome of scoring one submitted topic.
// Invariant: 0 <= Score <= Total.
type TestResult struct {
	Topic Topic `json:"topic"`
	Score int   `json:"score"`
	Total int   `json:"total"`
}

// SubjectMark is one subject's cell pair in a result row. Attempted
// distinguishes "scored zero" from "never taken" (N/A on disk).
type SubjectMark struct {
	Score     int
	Total     int
	Attempted bool
}

// Percentage derives score/total*100. The second return is false when the
// subject was not attempted or its total is zero; callers must not divide
// in that case.
func (m SubjectMark) Percentage() (float64, bool) {
	if !m.Attempted || m.Total <= 0 {
		return 0, false
	}
	return float64(m.Score) / float64(m.Total) * 100, true
}

// ResultRow is one completed session flattened for the tabular store:
// name, three score/total pairs, free-text feedback.
type ResultRow struct {
	Name     string
	Marks    map[Topic]SubjectMark
	Feedback string
}

// Mark returns the row's mark for a topic, unattempted if absent.
func (r ResultRow) Mark(t Topic) SubjectMark {
	if m, ok := r.Marks[t]; ok {
		return m
	}
	return SubjectMark{}
}

// StudentRecord is a ResultRow reinterpreted for ranking and charting.
type StudentRecord = ResultRow

// SentimentTally counts feedback strings by polarity. Compounds strictly
// between the thresholds land in neither bucket.
type SentimentTally struct {
	Positive int `json:"positive_count"`
	Negative int `json:"negative_count"`
}

// Session is one identity's test-taking state. Created at login, destroyed
// at logout or expiry. The active answer keys and per-topic results live in
// the session store keyed by Token.
type Session struct {
	Token       string
	Name        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	DatasetPath string
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	QuestionsPerTopic int    // answer-key length per topic
	ResultsPath       string // path to the results workbook
	UploadsDir        string // where uploaded datasets are stored
	StaticDir         string // where chart artifacts are written
	SecureCookies     bool   // Set Secure flag on cookies (disable for local dev)
}

type sessionCtxKey struct{}

// ContextWithSession stores the request's session in the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// SessionFromContext retrieves the session from context, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return s
}
