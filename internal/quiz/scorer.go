// Package quiz scores submitted answer sets against a topic's answer key.
package quiz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mathprep/aptitude/internal/model"
)

// ErrNoActiveKey means scoring was attempted for a topic that was never
// begun in this session.
var ErrNoActiveKey = errors.New("no active answer key for topic")

// ErrBadIndex means a submitted answer carried an ordinal that is not a
// valid 1-based position in the answer key.
var ErrBadIndex = errors.New("invalid answer index")

// ParseSubmission converts the wire form (JSON object keys are ordinal
// strings) into explicit integer ordinals. The full key is parsed as an
// integer, so ordinals above 9 work the same as single digits.
func ParseSubmission(raw map[string]string) (map[int]string, error) {
	submitted := make(map[int]string, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrBadIndex, k)
		}
		submitted[idx] = v
	}
	return submitted, nil
}

// Score compares a submitted answer set against the stored key. Each
// submitted answer is trimmed, case-folded and compared with the key entry
// at the same ordinal; exact matches score one point. Total is always the
// key length: positions never submitted count against the total and
// contribute nothing. Ordinals outside [1, len(key)] are rejected.
// Scoring is pure, so resubmitting the same set yields the same result.
func Score(topic model.Topic, key []string, submitted map[int]string) (model.TestResult, error) {
	if len(key) == 0 {
		return model.TestResult{}, fmt.Errorf("%w: %s", ErrNoActiveKey, topic)
	}

	score := 0
	for idx, text := range submitted {
		if idx < 1 || idx > len(key) {
			return model.TestResult{}, fmt.Errorf("%w: %d not in [1, %d]", ErrBadIndex, idx, len(key))
		}
		if normalize(text) == normalize(key[idx-1]) {
			score++
		}
	}

	return model.TestResult{Topic: topic, Score: score, Total: len(key)}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
