package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mathprep/aptitude/internal/model"
)

const testReply = `Question 1: What is 2+2?
Answer: 4
Question 2: What is 3*3?
Answer: 9`

// newTestClient points a Client at a fake OpenAI-compatible endpoint that
// returns 429 for the first failures calls and then succeeds with reply.
func newTestClient(t *testing.T, failures int, reply string) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if int(n) <= failures {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limit exceeded","type":"requests"}}`)
			return
		}
		fmt.Fprintf(w, `{"id":"t","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, reply)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL+"/v1", "test-key", "test-model", 2, 3)
	c.retryBase = time.Millisecond
	return c, &calls
}

func TestGenerateQuestions(t *testing.T) {
	c, calls := newTestClient(t, 0, testReply)

	set, err := c.GenerateQuestions(context.Background(), model.TopicArithmetic)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if set.Topic != model.TopicArithmetic {
		t.Errorf("topic = %q, want arithmetic", set.Topic)
	}
	if len(set.Questions) != 2 || len(set.Answers) != 2 {
		t.Fatalf("expected 2+2, got %d questions, %d answers", len(set.Questions), len(set.Answers))
	}
	if *calls != 1 {
		t.Errorf("expected 1 API call, got %d", *calls)
	}
}

func TestGenerateQuestionsRetriesRateLimit(t *testing.T) {
	c, calls := newTestClient(t, 2, testReply)

	set, err := c.GenerateQuestions(context.Background(), model.TopicAlgebra)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(set.Questions) != 2 {
		t.Fatalf("expected 2 questions after retries, got %d", len(set.Questions))
	}
	if *calls != 3 {
		t.Errorf("expected 3 API calls (2 rate limited + 1 ok), got %d", *calls)
	}
}

func TestGenerateQuestionsRetryBudgetExhausted(t *testing.T) {
	c, calls := newTestClient(t, 100, testReply)

	_, err := c.GenerateQuestions(context.Background(), model.TopicGeometry)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	// maxRetries=3 means 1 initial attempt + 3 retries.
	if *calls != 4 {
		t.Errorf("expected 4 API calls, got %d", *calls)
	}
}

func TestGenerateQuestionsOtherErrorsPropagate(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1", "test-key", "test-model", 2, 3)
	c.retryBase = time.Millisecond

	_, err := c.GenerateQuestions(context.Background(), model.TopicArithmetic)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("server error must not be reported as rate limiting: %v", err)
	}
	if calls != 1 {
		t.Errorf("non-429 errors must not be retried, got %d calls", calls)
	}
}

func TestGenerateQuestionsMalformedReply(t *testing.T) {
	c, _ := newTestClient(t, 0, "Question 1: A?\nAnswer: a\nQuestion 2: B?")

	_, err := c.GenerateQuestions(context.Background(), model.TopicArithmetic)
	if !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("expected ErrMalformedReply, got %v", err)
	}
}
