package push

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qaboard/internal/board"
	"qaboard/internal/metrics"
)

func TestRouteAppliesEachKind(t *testing.T) {
	store := board.NewStore(nil)
	var announced []board.ID
	r := NewRouter(store, OnNewQuestion(func(q board.Question) { announced = append(announced, q.ID) }))

	require.NoError(t, r.Route([]byte(`{"type":"new_question","data":{"question_id":"q1","message":"hi","status":"Pending","username":"amy"}}`)))
	require.NoError(t, r.Route([]byte(`{"type":"new_question","data":{"question_id":"q1","message":"hi again"}}`)))
	require.NoError(t, r.Route([]byte(`{"type":"question_updated","data":{"question_id":"q1","message":"hi","status":"Escalated"}}`)))
	require.NoError(t, r.Route([]byte(`{"type":"new_answer","data":{"answer_id":1,"question_id":"q1","answer":"hello"}}`)))
	require.NoError(t, r.Route([]byte(`{"type":"pong"}`)))

	q, ok := store.Question("q1")
	require.True(t, ok)
	assert.Equal(t, board.StatusEscalated, q.Status)
	assert.Equal(t, "amy", q.Author)
	assert.Equal(t, "hi", q.Text)
	assert.Len(t, store.CachedAnswers("q1"), 1)
	assert.Equal(t, []board.ID{"q1"}, announced)
}

func TestRoutedEscalationSortsAheadOfNewerQuestion(t *testing.T) {
	store := board.NewStore(nil)
	store.ReplaceQuestions([]board.Question{{
		ID:        "q1",
		Text:      "older",
		Status:    board.StatusPending,
		CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}})
	r := NewRouter(store)

	require.NoError(t, r.Route([]byte(`{"type":"question_updated","data":{"question_id":"q1","message":"older","status":"Escalated","created_at":"2024-01-01T10:00:00"}}`)))
	require.NoError(t, r.Route([]byte(`{"type":"new_question","data":{"question_id":"q2","message":"newer","status":"Pending","created_at":"2024-01-01T11:00:00"}}`)))

	qs := store.SortedQuestions()
	require.Len(t, qs, 2)
	assert.Equal(t, board.ID("q1"), qs[0].ID)
	assert.Equal(t, board.StatusEscalated, qs[0].Status)
	assert.Equal(t, board.ID("q2"), qs[1].ID)
}

func TestRouteDropsMalformedFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := board.NewStore(nil)
	r := NewRouter(store, WithRouterMetrics(metrics.New(reg)))

	bad := []string{
		`not json`,
		`{"type":"new_question"}`,
		`{"type":"new_answer","data":"oops"}`,
		`{"data":{"question_id":"q1"}}`,
	}
	for _, frame := range bad {
		assert.Error(t, r.Route([]byte(frame)), frame)
	}
	assert.Empty(t, store.SortedQuestions())

	require.NoError(t, r.Route([]byte(`{"type":"new_question","data":{"question_id":"q2"}}`)))
	assert.Len(t, store.SortedQuestions(), 1)
}

func TestRouteIgnoresUnknownType(t *testing.T) {
	store := board.NewStore(nil)
	r := NewRouter(store)
	assert.NoError(t, r.Route([]byte(`{"type":"presence","data":{}}`)))
	assert.Empty(t, store.SortedQuestions())
}
