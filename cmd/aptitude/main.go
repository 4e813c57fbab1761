package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mathprep/aptitude/internal/analysis"
	"github.com/mathprep/aptitude/internal/handler"
	appI18n "github.com/mathprep/aptitude/internal/i18n"
	"github.com/mathprep/aptitude/internal/llm"
	"github.com/mathprep/aptitude/internal/model"
	"github.com/mathprep/aptitude/internal/results"
	"github.com/mathprep/aptitude/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aptitude",
		Short: "Aptitude test platform powered by LLM question generation",
	}

	serve := serveCmd()
	root.AddCommand(serve, analyzeCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `aptitude --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP test server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "aptitude.db", "SQLite session database path")
	f.String("results", "results.xlsx", "Results workbook path")
	f.String("uploads-dir", "uploads", "Directory for uploaded datasets")
	f.String("static-dir", "static", "Directory for generated chart images")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.IntP("questions-per-topic", "n", 5, "Questions generated per topic")
	f.Uint64("llm-max-retries", 5, "Retries after a rate-limited generation request")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Rank a results dataset and report feedback sentiment",
		RunE:  runAnalyze,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "", "Results dataset path, .csv or .xlsx (required)")
	f.StringP("subject", "s", "arithmetic", "Subject to rank by (arithmetic, algebra, geometry)")
	f.String("charts", "", "Directory for radar charts (empty = skip rendering)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("APTITUDE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("aptitude")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/aptitude")
	v.AddConfigPath("/etc/aptitude")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.CleanupExpired(); err != nil {
		slog.Warn("cleanup expired sessions", "error", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetInt("questions-per-topic"),
		v.GetUint64("llm-max-retries"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	cfg := model.ServerConfig{
		QuestionsPerTopic: v.GetInt("questions-per-topic"),
		ResultsPath:       v.GetString("results"),
		UploadsDir:        v.GetString("uploads-dir"),
		StaticDir:         v.GetString("static-dir"),
		SecureCookies:     v.GetBool("secure-cookies"),
	}

	wb := results.NewWorkbook(cfg.ResultsPath)
	engine := analysis.New(cfg.StaticDir)
	h := handler.New(db, llmClient, wb, engine, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	h.Routes(r)

	// Chart images are served straight from the static directory.
	r.Handle("/static/*", http.StripPrefix("/static/",
		http.FileServer(http.Dir(cfg.StaticDir))))

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"questions_per_topic", cfg.QuestionsPerTopic,
		"results", cfg.ResultsPath,
	)
	return http.ListenAndServe(addr, r)
}

// analyzeReport is the JSON document produced by the analyze command.
type analyzeReport struct {
	Subject  string               `json:"subject"`
	Students []analyzeEntry       `json:"students"`
	Tally    model.SentimentTally `json:"sentiment"`
}

type analyzeEntry struct {
	Name       string  `json:"name"`
	Score      int     `json:"score"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	ChartPath  string  `json:"chart_path,omitempty"`
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	subject, ok := model.ParseTopic(strings.ToLower(v.GetString("subject")))
	if !ok {
		return fmt.Errorf("unknown subject %q", v.GetString("subject"))
	}

	rows, err := results.LoadDataset(v.GetString("input"))
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	chartsDir := v.GetString("charts")
	engine := analysis.New(chartsDir)

	feedbacks := make([]string, 0, len(rows))
	for _, row := range rows {
		feedbacks = append(feedbacks, row.Feedback)
	}
	tally := engine.ClassifySentiment(feedbacks)

	ranked := engine.Rank(rows, subject)
	report := analyzeReport{
		Subject: string(subject),
		Tally:   tally,
	}
	for _, entry := range ranked {
		mark := entry.Record.Mark(subject)
		item := analyzeEntry{
			Name:       entry.Record.Name,
			Score:      mark.Score,
			Total:      mark.Total,
			Percentage: entry.Percentage,
		}
		if chartsDir != "" {
			path, err := engine.RenderStudentChart(entry.Record.Name, entry.Record)
			if err != nil {
				return fmt.Errorf("render chart for %s: %w", entry.Record.Name, err)
			}
			item.ChartPath = path
		}
		report.Students = append(report.Students, item)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
