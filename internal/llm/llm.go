package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mathprep/aptitude/internal/model"
)

// ErrRateLimited marks a generation that kept hitting the API rate limit
// until the retry budget ran out.
var ErrRateLimited = errors.New("generation rate limited")

// Client wraps an OpenAI-compatible API client for question generation.
type Client struct {
	api        *openai.Client
	model      string
	perTopic   int
	maxRetries uint64
	retryBase  time.Duration
}

// New creates a new LLM client. perTopic is the number of question/answer
// pairs requested per topic; maxRetries bounds rate-limit retries.
func New(baseURL, apiKey, modelName string, perTopic int, maxRetries uint64) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		perTopic:   perTopic,
		maxRetries: maxRetries,
		retryBase:  time.Second,
	}
}

// Ping verifies the LLM endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// GenerateQuestions asks the LLM for a question set on the given topic and
// parses the reply. Rate-limit responses are retried with exponential
// backoff and jitter up to the configured budget; any other transport error
// propagates immediately. On success the returned set satisfies
// len(Questions) == len(Answers) == perTopic.
func (c *Client) GenerateQuestions(ctx context.Context, topic model.Topic) (model.QuestionSet, error) {
	op := func() (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(topic, c.perTopic)},
			},
		})
		if err != nil {
			if isRateLimited(err) {
				return "", err
			}
			return "", backoff.Permanent(fmt.Errorf("LLM API call: %w", err))
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(fmt.Errorf("LLM returned no choices"))
		}
		return resp.Choices[0].Message.Content, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	raw, err := backoff.RetryNotifyWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx),
		func(err error, next time.Duration) {
			slog.Warn("LLM rate limited, backing off", "topic", topic, "retry_in", next)
		})
	if err != nil {
		if isRateLimited(err) {
			return model.QuestionSet{}, fmt.Errorf("%w after %d retries: %v", ErrRateLimited, c.maxRetries, err)
		}
		return model.QuestionSet{}, err
	}
	slog.Debug("LLM reply", "topic", topic, "raw", raw)

	questions, answers, err := parseReply(raw, c.perTopic)
	if err != nil {
		return model.QuestionSet{}, err
	}
	return model.QuestionSet{Topic: topic, Questions: questions, Answers: answers}, nil
}

const systemPrompt = "You are an aptitude test question generator."

func buildUserPrompt(topic model.Topic, n int) string {
	return fmt.Sprintf(
		"Generate %d aptitude questions for %s and provide correct answers. "+
			"Structure the response as 'Question <number>: <question>' and 'Answer: <answer>' for each question.",
		n, topic)
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests
}
