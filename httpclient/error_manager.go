package httpclient

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrorRecorder is notified once with every final error a Client returns.
type ErrorRecorder interface {
	Record(ctx context.Context, err error)
}

// ErrorRecorderFunc adapts a function to ErrorRecorder.
type ErrorRecorderFunc func(ctx context.Context, err error)

// Record calls f(ctx, err).
func (f ErrorRecorderFunc) Record(ctx context.Context, err error) { f(ctx, err) }

// MultiRecorder fans an error out to several recorders.
func MultiRecorder(recorders ...ErrorRecorder) ErrorRecorder {
	return ErrorRecorderFunc(func(ctx context.Context, err error) {
		for _, r := range recorders {
			if r != nil {
				r.Record(ctx, err)
			}
		}
	})
}

// KindOf returns the taxonomy kind of err, or "" when err is not a
// RequestError.
func KindOf(err error) ErrorKind {
	var reqErr RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind()
	}
	return ""
}

// defaultRecentErrors bounds the errors kept by an ErrorManager.
const defaultRecentErrors = 50

// ErrorManager logs and counts request errors.
type ErrorManager struct {
	logger zerolog.Logger

	mu     sync.Mutex
	counts map[ErrorKind]int64
	recent []RequestError
	limit  int
}

var _ ErrorRecorder = (*ErrorManager)(nil)

// NewErrorManager creates a manager that logs through logger.
func NewErrorManager(logger zerolog.Logger) *ErrorManager {
	return &ErrorManager{
		logger: logger,
		counts: make(map[ErrorKind]int64),
		limit:  defaultRecentErrors,
	}
}

var (
	defaultErrorManager     *ErrorManager
	defaultErrorManagerOnce sync.Once
)

// DefaultErrorManager returns the process-wide manager. It logs nothing
// until SetLogger is called.
func DefaultErrorManager() *ErrorManager {
	defaultErrorManagerOnce.Do(func() {
		defaultErrorManager = NewErrorManager(zerolog.Nop())
	})
	return defaultErrorManager
}

// SetLogger replaces the logger.
func (m *ErrorManager) SetLogger(logger zerolog.Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Record logs err at error level and counts it by kind. Errors outside the
// taxonomy are counted under the empty kind.
func (m *ErrorManager) Record(_ context.Context, err error) {
	if err == nil {
		return
	}

	var reqErr RequestError
	isReqErr := errors.As(err, &reqErr)

	m.mu.Lock()
	logger := m.logger
	if isReqErr {
		m.counts[reqErr.Kind()]++
		m.recent = append(m.recent, reqErr)
		if len(m.recent) > m.limit {
			m.recent = m.recent[len(m.recent)-m.limit:]
		}
	} else {
		m.counts[""]++
	}
	m.mu.Unlock()

	event := logger.Error().Err(err)
	if isReqErr {
		d := reqErr.Details()
		event = event.
			Str("kind", string(reqErr.Kind())).
			Str("method", d.Method).
			Str("url", d.URL).
			Str("request_id", d.RequestID).
			Str("platform", string(d.Platform)).
			Int("retries", d.Retries)

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			event = event.Int("status", httpErr.StatusCode)
		}
	}
	event.Msg("request failed")
}

// Counts returns the number of recorded errors per kind.
func (m *ErrorManager) Counts() map[ErrorKind]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[ErrorKind]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Recent returns the most recent errors, oldest first.
func (m *ErrorManager) Recent() []RequestError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestError(nil), m.recent...)
}

// Reset clears counts and recent errors.
func (m *ErrorManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[ErrorKind]int64)
	m.recent = nil
}
