package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qaboard/internal/api"
	"qaboard/internal/app"
	"qaboard/internal/board"
	"qaboard/internal/config"
	"qaboard/internal/push"
	"qaboard/internal/reconcile"
)

func newTestModel(t *testing.T) model {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/answers/") {
			_, _ = w.Write([]byte(`{"answers":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"questions":[]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.APIURL = srv.URL + "/api"
	cfg.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.SessionFile = filepath.Join(t.TempDir(), "user.json")
	cfg.LogFile = ""
	a, err := app.New(cfg, nil, app.Deps{})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Shutdown)
	m := newModel(a)
	m.width, m.height = 120, 40
	m.resize()
	return m
}

func TestParseFlagsOverridesConfig(t *testing.T) {
	base := config.Default()
	opts, err := parseFlags([]string{
		"--ws-url", "wss://board.example/ws",
		"--poll-interval", "200ms",
		"--reconnect-delay", "1500ms",
		"--alt-screen=false",
	}, base, io.Discard)
	if err != nil {
		t.Fatalf("expected flags to parse, got %v", err)
	}
	if opts.cfg.WSURL != "wss://board.example/ws" {
		t.Fatalf("unexpected ws url: %q", opts.cfg.WSURL)
	}
	if opts.cfg.PollInterval != time.Second {
		t.Fatalf("expected poll interval clamped to 1s, got %s", opts.cfg.PollInterval)
	}
	if opts.cfg.ReconnectDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected reconnect delay: %s", opts.cfg.ReconnectDelay)
	}
	if opts.altScreen {
		t.Fatalf("expected alt screen disabled")
	}
	if opts.cfg.APIURL != config.DefaultAPIURL {
		t.Fatalf("expected api url to keep its default, got %q", opts.cfg.APIURL)
	}
}

func TestParseFlagsRejectsWrongScheme(t *testing.T) {
	if _, err := parseFlags([]string{"--ws-url", "http://board.example/ws"}, config.Default(), io.Discard); err == nil {
		t.Fatalf("expected http ws-url to be rejected")
	}
}

func TestDescribeErrorPrefersServerDetail(t *testing.T) {
	err := fmt.Errorf("submit: %w", &api.Error{Method: "POST", Path: "/questions", Status: 422, Detail: "message is required"})
	if got := describeError(err, "failed to submit question"); got != "message is required" {
		t.Fatalf("expected server detail, got %q", got)
	}
	if got := describeError(reconcile.ErrNotActive, "fallback"); got != reconcile.ErrNotActive.Error() {
		t.Fatalf("expected sentinel text, got %q", got)
	}
	if got := describeError(errors.New("dial tcp: refused"), "failed to submit answer"); got != "failed to submit answer" {
		t.Fatalf("expected fallback text, got %q", got)
	}
	if got := describeError(errors.New("boom"), ""); got != "boom" {
		t.Fatalf("expected raw error without fallback, got %q", got)
	}
}

func TestResolveQuestionRef(t *testing.T) {
	qs := []board.Question{{ID: "41"}, {ID: "abc"}, {ID: "7"}}
	cases := []struct {
		ref  string
		want board.ID
		ok   bool
	}{
		{"abc", "abc", true},
		{"7", "7", true},
		{"2", "abc", true},
		{"#1", "41", true},
		{"9", "", false},
		{"nope", "", false},
	}
	for _, tc := range cases {
		got, ok := resolveQuestionRef(qs, tc.ref)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("resolveQuestionRef(%q) = %q,%v want %q,%v", tc.ref, got, ok, tc.want, tc.ok)
		}
	}
}

func TestConnectionLabel(t *testing.T) {
	if got := connectionLabel(push.StateOpen, false, 5*time.Second); !strings.Contains(got, "live") {
		t.Fatalf("expected live label, got %q", got)
	}
	got := connectionLabel(push.StateClosedError, true, 5*time.Second)
	if !strings.Contains(got, "reconnecting") || !strings.Contains(got, "polling every 5s") {
		t.Fatalf("expected reconnecting with polling, got %q", got)
	}
	if got := connectionLabel(push.StateClosedClean, false, 5*time.Second); strings.Contains(got, "polling") {
		t.Fatalf("did not expect polling note, got %q", got)
	}
}

func TestStatusBadge(t *testing.T) {
	if statusBadge(board.StatusEscalated) != "[ESCALATED]" {
		t.Fatalf("unexpected escalated badge")
	}
	if statusBadge("") != "[pending]" {
		t.Fatalf("expected empty status to render as pending")
	}
}

func TestTextHelpers(t *testing.T) {
	if got := compactSingleLine("  a\n b\t c  ", 20); got != "a b c" {
		t.Fatalf("unexpected compact line: %q", got)
	}
	if got := truncate("héllo wörld", 8); got != "héllo..." {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
	if got := wrapText("one two three four", 9); got != "one two\nthree\nfour" {
		t.Fatalf("unexpected wrap: %q", got)
	}
	long := strings.Repeat("line\n\n\n", 20)
	compact := compactMessage(long, 4, 0)
	if !strings.Contains(compact, "lines hidden") {
		t.Fatalf("expected hidden-lines marker, got %q", compact)
	}
	if strings.Contains(compact, "\n\n\n") {
		t.Fatalf("expected blank runs folded, got %q", compact)
	}
}

func TestShortTimeZero(t *testing.T) {
	if shortTime(time.Time{}) != "--:--" {
		t.Fatalf("expected placeholder for zero time")
	}
}

func TestSlashCommandUsage(t *testing.T) {
	m := newTestModel(t)
	cases := map[string]string{
		"/ask":          "usage: /ask <question>",
		"/status maybe": "usage: /status escalated|answered",
		"/open 3":       "no question matches 3",
		"/close":        "no question is open",
		"/escalate":     "select a question first",
		"/suggest":      "open a question to ask for a suggestion",
		"/frobnicate":   "unknown command: /frobnicate",
	}
	for input, want := range cases {
		if cmd := m.handleSlash(input); cmd != nil {
			t.Fatalf("%s: expected no command", input)
		}
		if m.statusLine != want {
			t.Fatalf("%s: expected status %q, got %q", input, want, m.statusLine)
		}
		if m.inflight {
			t.Fatalf("%s: expected nothing in flight", input)
		}
	}
}

func TestStatusChangeRequiresSignIn(t *testing.T) {
	m := newTestModel(t)
	m.app.Store.ApplyNewQuestion(board.Question{ID: "q1", Text: "why?"})
	m.syncSnapshot()
	if cmd := m.handleSlash("/escalate"); cmd != nil {
		t.Fatalf("expected guest escalation to be refused locally")
	}
	if !strings.Contains(m.statusLine, reconcile.ErrNotAdmin.Error()) {
		t.Fatalf("expected admin error, got %q", m.statusLine)
	}
}

func TestOpenAndCloseQuestion(t *testing.T) {
	m := newTestModel(t)
	m.app.Store.ApplyNewQuestion(board.Question{ID: "q1", Text: "first"})
	m.app.Store.ApplyNewQuestion(board.Question{ID: "q2", Text: "second", Status: board.StatusEscalated})
	m.syncSnapshot()
	if m.selectedID != "q2" {
		t.Fatalf("expected escalated question selected first, got %q", m.selectedID)
	}

	cmd := m.handleSlash("/open 2")
	if cmd == nil {
		t.Fatalf("expected a refresh command")
	}
	if !m.hasActive || m.activeID != "q1" {
		t.Fatalf("expected q1 active, got %q (%v)", m.activeID, m.hasActive)
	}
	msg, ok := cmd().(refreshDoneMsg)
	if !ok {
		t.Fatalf("expected refreshDoneMsg")
	}
	if msg.err != nil || msg.questionID != "q1" {
		t.Fatalf("unexpected refresh result: %+v", msg)
	}
	if !strings.Contains(m.View(), "Answers · question q1") {
		t.Fatalf("expected thread title in view")
	}

	m.closeQuestion()
	if m.hasActive {
		t.Fatalf("expected question closed")
	}
	if id, ok := m.app.Store.ActiveQuestion(); ok {
		t.Fatalf("expected store to have no active question, got %q", id)
	}
}

func TestInitDoneWithoutServerKeepsRunning(t *testing.T) {
	m := newTestModel(t)
	next, _ := m.Update(initDoneMsg{err: context.DeadlineExceeded})
	got := next.(model)
	if !got.ready {
		t.Fatalf("expected model ready after init")
	}
	if !strings.Contains(got.statusLine, "initial load failed") {
		t.Fatalf("unexpected status: %q", got.statusLine)
	}
}

func TestLateRefreshKeepsIndicatorForOpenQuestion(t *testing.T) {
	m := newTestModel(t)
	m.app.Store.ApplyNewQuestion(board.Question{ID: "q1", Text: "first"})
	m.app.Store.ApplyNewQuestion(board.Question{ID: "q2", Text: "second"})
	m.syncSnapshot()
	if cmd := m.handleSlash("/open q2"); cmd == nil {
		t.Fatalf("expected a refresh command")
	}
	if !m.refreshing {
		t.Fatalf("expected refresh indicator after opening q2")
	}

	next, _ := m.Update(refreshDoneMsg{questionID: "q1"})
	m = next.(model)
	if !m.refreshing {
		t.Fatalf("a refresh for q1 must not clear the indicator for q2")
	}

	next, _ = m.Update(refreshDoneMsg{questionID: "q2"})
	m = next.(model)
	if m.refreshing {
		t.Fatalf("expected indicator cleared once q2 refreshed")
	}
}
