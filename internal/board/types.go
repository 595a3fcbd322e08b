// Package board holds the question/answer model and the in-memory store that
// reconciles pushed events, polled snapshots and confirmed writes into one view.
package board

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const Anonymous = "Anonymous"

type Status string

const (
	StatusPending   Status = "Pending"
	StatusEscalated Status = "Escalated"
	StatusAnswered  Status = "Answered"
)

func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, true
	case "escalated":
		return StatusEscalated, true
	case "answered":
		return StatusAnswered, true
	}
	return "", false
}

// ID is an opaque identifier. The backend sends some ids as numbers and
// some as strings; both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Less orders numeric ids numerically and everything else lexically.
func (id ID) Less(other ID) bool {
	a, errA := strconv.ParseInt(string(id), 10, 64)
	b, errB := strconv.ParseInt(string(other), 10, 64)
	if errA == nil && errB == nil {
		return a < b
	}
	return id < other
}

type Question struct {
	ID        ID
	AuthorID  ID
	Text      string
	Status    Status
	CreatedAt time.Time
	Author    string
}

type Answer struct {
	ID         ID
	QuestionID ID
	AuthorID   ID
	Text       string
	CreatedAt  time.Time
	Author     string
}

type questionWire struct {
	QuestionID ID      `json:"question_id"`
	UserID     ID      `json:"user_id"`
	Message    string  `json:"message"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	Username   *string `json:"username"`
}

type answerWire struct {
	AnswerID   ID      `json:"answer_id"`
	QuestionID ID      `json:"question_id"`
	UserID     ID      `json:"user_id"`
	Answer     string  `json:"answer"`
	CreatedAt  string  `json:"created_at"`
	Username   *string `json:"username"`
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*q = Question{
		ID:        w.QuestionID,
		AuthorID:  w.UserID,
		Text:      w.Message,
		Status:    Status(w.Status),
		CreatedAt: ParseTime(w.CreatedAt),
	}
	if w.Username != nil {
		q.Author = *w.Username
	}
	return nil
}

func (q Question) MarshalJSON() ([]byte, error) {
	name := q.Author
	return json.Marshal(questionWire{
		QuestionID: q.ID,
		UserID:     q.AuthorID,
		Message:    q.Text,
		Status:     string(q.Status),
		CreatedAt:  formatTime(q.CreatedAt),
		Username:   &name,
	})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var w answerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Answer{
		ID:         w.AnswerID,
		QuestionID: w.QuestionID,
		AuthorID:   w.UserID,
		Text:       w.Answer,
		CreatedAt:  ParseTime(w.CreatedAt),
	}
	if w.Username != nil {
		a.Author = *w.Username
	}
	return nil
}

func (a Answer) MarshalJSON() ([]byte, error) {
	name := a.Author
	return json.Marshal(answerWire{
		AnswerID:   a.ID,
		QuestionID: a.QuestionID,
		UserID:     a.AuthorID,
		Answer:     a.Text,
		CreatedAt:  formatTime(a.CreatedAt),
		Username:   &name,
	})
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime accepts RFC 3339 and naive ISO timestamps (read as UTC).
// Anything else yields the zero time.
func ParseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
