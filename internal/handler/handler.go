// Package handler exposes the test pipeline over HTTP as a JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mathprep/aptitude/internal/analysis"
	appI18n "github.com/mathprep/aptitude/internal/i18n"
	"github.com/mathprep/aptitude/internal/llm"
	"github.com/mathprep/aptitude/internal/model"
	"github.com/mathprep/aptitude/internal/quiz"
	"github.com/mathprep/aptitude/internal/results"
	"github.com/mathprep/aptitude/internal/store"
)

const sessionCookieName = "session"

// QuestionGenerator produces a validated question/answer-key pair for a topic.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, topic model.Topic) (model.QuestionSet, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	llm    QuestionGenerator
	wb     *results.Workbook
	agg    *results.Aggregator
	engine *analysis.Engine
	config model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, gen QuestionGenerator, wb *results.Workbook, engine *analysis.Engine, cfg model.ServerConfig) *Handler {
	return &Handler{
		store:  s,
		llm:    gen,
		wb:     wb,
		agg:    results.NewAggregator(wb),
		engine: engine,
		config: cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSession)
		r.Post("/logout", h.handleLogout)
		r.Get("/generate_questions", h.handleGenerateQuestions)
		r.Post("/save_test", h.handleSaveTest)
		r.Post("/submit_all_tests", h.handleSubmitAllTests)
		r.Post("/upload", h.handleUpload)
		r.Get("/arithmetic_score", h.handleSubjectScore(model.TopicArithmetic))
		r.Get("/algebra_score", h.handleSubjectScore(model.TopicAlgebra))
		r.Get("/geometry_score", h.handleSubjectScore(model.TopicGeometry))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// clientError writes a structured failure payload with a localized message.
func (h *Handler) clientError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

// requireSession resolves the session cookie and stores the session in the
// request context. Missing or expired sessions get a 401 JSON payload.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			h.clientError(w, r, http.StatusUnauthorized, "NotLoggedIn")
			return
		}
		sess, err := h.store.GetSession(cookie.Value)
		if err != nil {
			slog.Error("session lookup failed", "error", err)
			h.clientError(w, r, http.StatusUnauthorized, "NotLoggedIn")
			return
		}
		if sess == nil {
			h.clientError(w, r, http.StatusUnauthorized, "NotLoggedIn")
			return
		}
		ctx := model.ContextWithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			name = strings.TrimSpace(body.Name)
		}
	}
	if name == "" {
		h.clientError(w, r, http.StatusBadRequest, "MissingName")
		return
	}

	sess, err := h.store.CreateSession(name)
	if err != nil {
		slog.Error("create session", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "name": sess.Name})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := model.SessionFromContext(r.Context())
	if err := h.store.DeleteSession(sess.Token); err != nil {
		slog.Error("delete session", "error", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": appI18n.T(r.Context(), "LoggedOut")})
}

func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	sess := model.SessionFromContext(r.Context())

	topic, ok := model.ParseTopic(r.URL.Query().Get("topic"))
	if !ok {
		h.clientError(w, r, http.StatusBadRequest, "UnknownTopic")
		return
	}

	set, err := h.llm.GenerateQuestions(r.Context(), topic)
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		slog.Error("generation rate limited", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusServiceUnavailable, "GenerationRateLimited")
		return
	case errors.Is(err, llm.ErrMalformedReply):
		slog.Error("generation reply malformed", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusBadGateway, "GenerationFailed")
		return
	case err != nil:
		slog.Error("generation failed", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "GenerationFailed")
		return
	}

	if err := h.store.SetAnswerKey(sess.Token, topic, set.Answers); err != nil {
		slog.Error("store answer key", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topic":     topic,
		"questions": set.Questions,
	})
}

func (h *Handler) handleSaveTest(w http.ResponseWriter, r *http.Request) {
	sess := model.SessionFromContext(r.Context())

	topic, ok := model.ParseTopic(r.URL.Query().Get("topic"))
	if !ok {
		h.clientError(w, r, http.StatusBadRequest, "UnknownTopic")
		return
	}

	var raw map[string]string
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.clientError(w, r, http.StatusBadRequest, "InvalidAnswers")
		return
	}
	submitted, err := quiz.ParseSubmission(raw)
	if err != nil {
		h.clientError(w, r, http.StatusBadRequest, "InvalidAnswers")
		return
	}

	key, err := h.store.GetAnswerKey(sess.Token, topic)
	if err != nil {
		slog.Error("load answer key", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	result, err := quiz.Score(topic, key, submitted)
	switch {
	case errors.Is(err, quiz.ErrNoActiveKey):
		h.clientError(w, r, http.StatusBadRequest, "NoActiveKey")
		return
	case errors.Is(err, quiz.ErrBadIndex):
		h.clientError(w, r, http.StatusBadRequest, "InvalidAnswers")
		return
	case err != nil:
		slog.Error("score submission", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	if err := h.store.SaveTopicResult(sess.Token, result); err != nil {
		slog.Error("save topic result", "topic", topic, "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"score":  result.Score,
		"total":  result.Total,
	})
}

func (h *Handler) handleSubmitAllTests(w http.ResponseWriter, r *http.Request) {
	sess := model.SessionFromContext(r.Context())

	feedback := r.FormValue("feedback")

	testResults, err := h.store.TopicResults(sess.Token)
	if err != nil {
		slog.Error("load topic results", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	_, err = h.agg.Finalize(sess.Name, testResults, feedback)
	switch {
	case errors.Is(err, results.ErrNoResults):
		h.clientError(w, r, http.StatusBadRequest, "NoTestResults")
		return
	case errors.Is(err, results.ErrMissingFeedback):
		h.clientError(w, r, http.StatusBadRequest, "MissingFeedback")
		return
	case err != nil:
		slog.Error("finalize session", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	// The results map is consumed once persisted.
	if err := h.store.ClearResults(sess.Token); err != nil {
		slog.Error("clear consumed results", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": appI18n.T(r.Context(), "AllTestsSubmitted"),
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := model.SessionFromContext(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		h.clientError(w, r, http.StatusBadRequest, "MissingUploadFile")
		return
	}
	defer file.Close()

	if !results.SupportedExt(header.Filename) {
		h.clientError(w, r, http.StatusBadRequest, "UnsupportedUploadFormat")
		return
	}

	if err := os.MkdirAll(h.config.UploadsDir, 0o755); err != nil {
		slog.Error("create uploads dir", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}
	// Session-scoped name so two identities can't clobber each other's upload.
	path := filepath.Join(h.config.UploadsDir,
		fmt.Sprintf("%s_%s", sess.Token[:8], filepath.Base(header.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		slog.Error("create upload file", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		slog.Error("write upload file", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}
	if err := dst.Close(); err != nil {
		slog.Error("close upload file", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	rows, err := results.LoadDataset(path)
	if err != nil {
		slog.Warn("uploaded dataset unreadable", "path", path, "error", err)
		h.clientError(w, r, http.StatusBadRequest, "DatasetUnreadable")
		return
	}

	if err := h.store.SetDatasetPath(sess.Token, path); err != nil {
		slog.Error("bind dataset to session", "error", err)
		h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": appI18n.T(r.Context(), "UploadAccepted"),
		"rows":    len(rows),
	})
}

type rankedStudent struct {
	Name       string  `json:"name"`
	Score      int     `json:"score"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	ChartPath  string  `json:"chart_path"`
}

type subjectScoreResponse struct {
	Subject  string          `json:"subject"`
	Students []rankedStudent `json:"students"`
	model.SentimentTally
}

// handleSubjectScore ranks the session's dataset by one subject, tallies
// feedback sentiment across the whole dataset, and renders one radar chart
// per ranked student.
func (h *Handler) handleSubjectScore(topic model.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := model.SessionFromContext(r.Context())

		var (
			rows []model.ResultRow
			err  error
		)
		if sess.DatasetPath != "" {
			rows, err = results.LoadDataset(sess.DatasetPath)
		} else {
			// No upload bound: analyze the server's own results store.
			rows, err = h.wb.Rows()
		}
		if err != nil {
			slog.Error("load dataset", "error", err)
			h.clientError(w, r, http.StatusInternalServerError, "DatasetUnreadable")
			return
		}

		feedbacks := make([]string, 0, len(rows))
		for _, row := range rows {
			feedbacks = append(feedbacks, row.Feedback)
		}
		tally := h.engine.ClassifySentiment(feedbacks)

		ranked := h.engine.Rank(rows, topic)
		students := make([]rankedStudent, 0, len(ranked))
		for _, entry := range ranked {
			chartPath, err := h.engine.RenderStudentChart(entry.Record.Name, entry.Record)
			if err != nil {
				slog.Error("render chart", "student", entry.Record.Name, "error", err)
				h.clientError(w, r, http.StatusInternalServerError, "SaveFailed")
				return
			}
			mark := entry.Record.Mark(topic)
			students = append(students, rankedStudent{
				Name:       entry.Record.Name,
				Score:      mark.Score,
				Total:      mark.Total,
				Percentage: entry.Percentage,
				ChartPath:  chartPath,
			})
		}

		writeJSON(w, http.StatusOK, subjectScoreResponse{
			Subject:        cases.Title(language.English).String(string(topic)),
			Students:       students,
			SentimentTally: tally,
		})
	}
}
