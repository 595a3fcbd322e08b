// Package reconcile holds the write path and the polling fallback that sit
// between the REST backend and the board store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"qaboard/internal/board"
	"qaboard/internal/logging"
	"qaboard/internal/metrics"
)

var (
	ErrEmptyText     = errors.New("text is empty")
	ErrNotActive     = errors.New("question is not active")
	ErrNotAdmin      = errors.New("sign in to change question status")
	ErrInvalidStatus = errors.New("status must be Escalated or Answered")
)

type Writer interface {
	CreateQuestion(ctx context.Context, text string, authorID board.ID) (board.Question, error)
	CreateAnswer(ctx context.Context, questionID board.ID, text string, authorID board.ID) (board.Answer, error)
	UpdateStatus(ctx context.Context, questionID board.ID, status board.Status) error
	Suggest(ctx context.Context, questionID board.ID) (string, error)
}

// Coordinator submits writes and folds each confirmed record into the
// store without waiting for the push echo. The echo is deduplicated by id.
type Coordinator struct {
	writer  Writer
	store   *board.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewCoordinator(writer Writer, store *board.Store, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{writer: writer, store: store, logger: logging.OrDiscard(logger), metrics: m}
}

func (c *Coordinator) SubmitQuestion(ctx context.Context, text string, authorID board.ID) (board.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return board.Question{}, ErrEmptyText
	}
	q, err := c.writer.CreateQuestion(ctx, text, authorID)
	c.metrics.Write("submit_question", err)
	if err != nil {
		c.logger.Warn("submit question failed", "err", err)
		return board.Question{}, fmt.Errorf("submit question: %w", err)
	}
	if q.Text == "" {
		q.Text = text
	}
	c.store.ApplyNewQuestion(q)
	stored, ok := c.store.Question(q.ID)
	if !ok {
		stored = q
	}
	return stored, nil
}

// SubmitAnswer requires questionID to be the active question both when the
// call starts and, for the in-view append, when the confirmation lands.
func (c *Coordinator) SubmitAnswer(ctx context.Context, questionID board.ID, text string, authorID board.ID) (board.Answer, error) {
	if active, ok := c.store.ActiveQuestion(); !ok || active != questionID {
		return board.Answer{}, ErrNotActive
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return board.Answer{}, ErrEmptyText
	}
	a, err := c.writer.CreateAnswer(ctx, questionID, text, authorID)
	c.metrics.Write("submit_answer", err)
	if err != nil {
		c.logger.Warn("submit answer failed", "question_id", questionID, "err", err)
		return board.Answer{}, fmt.Errorf("submit answer: %w", err)
	}
	if a.QuestionID == "" {
		a.QuestionID = questionID
	}
	if a.Text == "" {
		a.Text = text
	}
	c.store.ApplyNewAnswer(a)
	return a, nil
}

// UpdateStatus is for signed-in users only. The store is not touched: the
// server's question_updated event (or the next poll) carries the change.
func (c *Coordinator) UpdateStatus(ctx context.Context, signedIn bool, questionID board.ID, status board.Status) error {
	if !signedIn {
		return ErrNotAdmin
	}
	if status != board.StatusEscalated && status != board.StatusAnswered {
		return ErrInvalidStatus
	}
	if _, ok := c.store.Question(questionID); !ok {
		return fmt.Errorf("update status: unknown question %s", questionID)
	}
	err := c.writer.UpdateStatus(ctx, questionID, status)
	c.metrics.Write("update_status", err)
	if err != nil {
		c.logger.Warn("update status failed", "question_id", questionID, "status", status, "err", err)
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (c *Coordinator) Suggest(ctx context.Context, questionID board.ID) (string, error) {
	if active, ok := c.store.ActiveQuestion(); !ok || active != questionID {
		return "", ErrNotActive
	}
	s, err := c.writer.Suggest(ctx, questionID)
	c.metrics.Write("suggest", err)
	if err != nil {
		return "", fmt.Errorf("suggest: %w", err)
	}
	return strings.TrimSpace(s), nil
}
