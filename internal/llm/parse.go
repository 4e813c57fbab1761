package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Reply line markers. Everything else in the reply is discarded.
const (
	questionMarker = "Question"
	answerMarker   = "Answer:"
)

// ErrMalformedReply means the LLM reply did not parse into the expected
// question/answer pairs. Callers must not score against a set that failed
// this validation.
var ErrMalformedReply = errors.New("malformed generation reply")

// parseReply walks the reply line by line with a two-state machine: a
// question line opens a pending question, the next answer line closes it.
// An answer line with no pending question is model noise and is skipped.
// A second question line before an answer, a question line without a colon,
// a trailing unanswered question, or a pair count different from want all
// fail with ErrMalformedReply instead of silently dropping data.
func parseReply(reply string, want int) (questions, answers []string, err error) {
	pending := false

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, questionMarker):
			if pending {
				return nil, nil, fmt.Errorf("%w: question %d repeated before its answer",
					ErrMalformedReply, len(questions))
			}
			text, ok := afterColon(line)
			if !ok {
				return nil, nil, fmt.Errorf("%w: question line without colon: %q", ErrMalformedReply, line)
			}
			questions = append(questions, text)
			pending = true
		case strings.HasPrefix(line, answerMarker):
			if !pending {
				continue
			}
			text, _ := afterColon(line)
			answers = append(answers, text)
			pending = false
		}
	}

	if pending {
		return nil, nil, fmt.Errorf("%w: question %d has no answer", ErrMalformedReply, len(questions))
	}
	if len(questions) != len(answers) {
		return nil, nil, fmt.Errorf("%w: %d questions but %d answers",
			ErrMalformedReply, len(questions), len(answers))
	}
	if want > 0 && len(questions) != want {
		return nil, nil, fmt.Errorf("%w: expected %d question/answer pairs, got %d",
			ErrMalformedReply, want, len(questions))
	}
	return questions, answers, nil
}

func afterColon(line string) (string, bool) {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
