package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mathprep/aptitude/internal/model"

	_ "modernc.org/sqlite"
)

const sessionTTL = 24 * time.Hour

// ErrSessionNotFound is returned when a token has no live session.
var ErrSessionNotFound = errors.New("session not found")

// Store is the durable per-identity session state: the identity itself,
// the active answer key per topic, the running per-topic results, and the
// dataset bound for analysis.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		dataset_path TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS answer_keys (
		session_token TEXT NOT NULL,
		topic TEXT NOT NULL,
		position INTEGER NOT NULL,
		answer TEXT NOT NULL,
		PRIMARY KEY (session_token, topic, position),
		FOREIGN KEY (session_token) REFERENCES sessions(token)
	);

	CREATE TABLE IF NOT EXISTS topic_results (
		session_token TEXT NOT NULL,
		topic TEXT NOT NULL,
		score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		PRIMARY KEY (session_token, topic),
		FOREIGN KEY (session_token) REFERENCES sessions(token)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession mints a session for the given display name with an empty
// results map.
func (s *Store) CreateSession(name string) (model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return model.Session{}, err
	}
	now := time.Now()
	sess := model.Session{
		Token:     token,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (token, name, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.Name, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// GetSession returns the session for a token, or nil if missing or expired.
// Expired sessions are torn down on read.
func (s *Store) GetSession(token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(
		`SELECT token, name, created_at, expires_at, dataset_path FROM sessions WHERE token = ?`, token,
	).Scan(&sess.Token, &sess.Name, &sess.CreatedAt, &sess.ExpiresAt, &sess.DatasetPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteSession removes a session and all state hanging off it.
func (s *Store) DeleteSession(token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM answer_keys WHERE session_token = ?`,
		`DELETE FROM topic_results WHERE session_token = ?`,
		`DELETE FROM sessions WHERE token = ?`,
	} {
		if _, err := tx.Exec(q, token); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CleanupExpired removes all expired sessions and their state.
func (s *Store) CleanupExpired() error {
	rows, err := s.db.Query(`SELECT token FROM sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, t := range tokens {
		if err := s.DeleteSession(t); err != nil {
			return err
		}
	}
	return nil
}

// SetAnswerKey replaces the session's active answer key for a topic.
func (s *Store) SetAnswerKey(token string, topic model.Topic, answers []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM answer_keys WHERE session_token = ? AND topic = ?`, token, topic,
	); err != nil {
		return err
	}
	for i, a := range answers {
		if _, err := tx.Exec(
			`INSERT INTO answer_keys (session_token, topic, position, answer) VALUES (?, ?, ?, ?)`,
			token, topic, i+1, a,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetAnswerKey returns the session's active key for a topic in position
// order, empty if no key was stored.
func (s *Store) GetAnswerKey(token string, topic model.Topic) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT answer FROM answer_keys WHERE session_token = ? AND topic = ? ORDER BY position`,
		token, topic,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SaveTopicResult upserts the session's result for a topic, so resubmitting
// the same topic overwrites the prior result.
func (s *Store) SaveTopicResult(token string, r model.TestResult) error {
	_, err := s.db.Exec(
		`INSERT INTO topic_results (session_token, topic, score, total)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_token, topic) DO UPDATE SET score = ?, total = ?`,
		token, r.Topic, r.Score, r.Total, r.Score, r.Total,
	)
	return err
}

// TopicResults returns the session's completed-topic results keyed by topic.
func (s *Store) TopicResults(token string) (map[model.Topic]model.TestResult, error) {
	rows, err := s.db.Query(
		`SELECT topic, score, total FROM topic_results WHERE session_token = ?`, token,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make(map[model.Topic]model.TestResult)
	for rows.Next() {
		var r model.TestResult
		if err := rows.Scan(&r.Topic, &r.Score, &r.Total); err != nil {
			return nil, err
		}
		results[r.Topic] = r
	}
	return results, rows.Err()
}

// ClearResults drops the session's results and keys once the aggregator has
// consumed them.
func (s *Store) ClearResults(token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM topic_results WHERE session_token = ?`, token); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM answer_keys WHERE session_token = ?`, token); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDatasetPath binds an uploaded dataset to the session for analysis.
func (s *Store) SetDatasetPath(token, path string) error {
	res, err := s.db.Exec(`UPDATE sessions SET dataset_path = ? WHERE token = ?`, path, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
