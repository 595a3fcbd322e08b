package push

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"qaboard/internal/board"
	"qaboard/internal/logging"
	"qaboard/internal/metrics"
)

const (
	KindNewQuestion     = "new_question"
	KindQuestionUpdated = "question_updated"
	KindNewAnswer       = "new_answer"
	KindPong            = "pong"
	KindPing            = "ping"
)

// Envelope is the wire frame: {"type": ..., "data": ...}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Sink receives decoded events. *board.Store satisfies it.
type Sink interface {
	ApplyNewQuestion(board.Question) bool
	ApplyQuestionUpdate(board.Question) bool
	ApplyNewAnswer(board.Answer) bool
}

type Router struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	onNew   func(board.Question)
}

type RouterOption func(*Router)

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logging.OrDiscard(l) }
}

func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// OnNewQuestion is called after a pushed question is inserted for the
// first time.
func OnNewQuestion(fn func(board.Question)) RouterOption {
	return func(r *Router) { r.onNew = fn }
}

func NewRouter(sink Sink, opts ...RouterOption) *Router {
	r := &Router{sink: sink, logger: logging.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route decodes one frame and applies it. Malformed frames are logged,
// counted and returned as an error; they never stop the caller's loop.
func (r *Router) Route(frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return r.drop("", fmt.Errorf("decode envelope: %w", err), frame)
	}
	kind := strings.ToLower(strings.TrimSpace(env.Type))
	switch kind {
	case KindNewQuestion:
		var q board.Question
		if err := decodePayload(env.Data, &q); err != nil {
			return r.drop(kind, err, frame)
		}
		if r.sink.ApplyNewQuestion(q) && r.onNew != nil {
			r.onNew(q)
		}
	case KindQuestionUpdated:
		var q board.Question
		if err := decodePayload(env.Data, &q); err != nil {
			return r.drop(kind, err, frame)
		}
		r.sink.ApplyQuestionUpdate(q)
	case KindNewAnswer:
		var a board.Answer
		if err := decodePayload(env.Data, &a); err != nil {
			return r.drop(kind, err, frame)
		}
		r.sink.ApplyNewAnswer(a)
	case KindPong:
	case "":
		return r.drop(kind, fmt.Errorf("missing type"), frame)
	default:
		r.logger.Debug("unknown frame type ignored", "type", env.Type)
		kind = "unknown"
	}
	r.metrics.FrameRouted(kind)
	return nil
}

func (r *Router) drop(kind string, err error, frame []byte) error {
	r.metrics.FrameDropped()
	r.logger.Warn("push frame dropped", "type", kind, "err", err, "frame", truncate(string(frame), 200))
	return err
}

func decodePayload(data json.RawMessage, out interface{ UnmarshalJSON([]byte) error }) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("missing data")
	}
	if err := out.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
