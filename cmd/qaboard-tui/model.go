package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"qaboard/internal/api"
	"qaboard/internal/app"
	"qaboard/internal/board"
	"qaboard/internal/push"
	"qaboard/internal/reconcile"
)

const (
	redrawInterval  = time.Second
	refreshTimeout  = 15 * time.Second
	questionPreview = 160
	answerMaxLines  = 12
	answerMaxChars  = 1200
)

type tabID int

const (
	tabBoard tabID = iota
	tabActivity
	tabHelp
)

const tabCount = 3

type model struct {
	app *app.App

	questions  []board.Question
	answers    []board.Answer
	selectedID board.ID
	activeID   board.ID
	hasActive  bool
	suggestion string
	pushState  push.State
	polling    bool

	ready       bool
	statusLine  string
	logs        []string
	activeTab   tabID
	inflight    bool
	refreshing  bool
	quitConfirm bool

	width  int
	height int

	input   textinput.Model
	list    viewport.Model
	thread  viewport.Model
	spinner spinner.Model

	theme uiTheme
}

type initDoneMsg struct {
	err error
}

type noticeMsg struct {
	notice board.Notice
}

type pushStateMsg struct {
	state push.State
}

type newQuestionMsg struct {
	question board.Question
}

type refreshDoneMsg struct {
	questionID board.ID
	err        error
}

type actionDoneMsg struct {
	status string
	err    error
	// fallback is shown when err carries no readable detail.
	fallback string
}

type suggestionMsg struct {
	questionID board.ID
	text       string
	err        error
}

type tickMsg time.Time

func newModel(a *app.App) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Ask a question, or open one (Ctrl+O) to answer. /help for commands."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	list := viewport.New(0, 0)
	list.MouseWheelEnabled = true
	list.MouseWheelDelta = 3
	thread := viewport.New(0, 0)
	thread.MouseWheelEnabled = true
	thread.MouseWheelDelta = 4

	return model{
		app:        a,
		statusLine: "connecting...",
		logs:       []string{},
		activeTab:  tabBoard,
		input:      input,
		list:       list,
		thread:     thread,
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.initCmd(),
		tickEvery(redrawInterval),
		waitNotice(m.app.Store.Notices()),
		waitPushState(m.app.StateUpdates()),
		waitNewQuestion(m.app.NewQuestions()),
	)
}

func (m model) initCmd() tea.Cmd {
	a := m.app
	return func() tea.Msg {
		return initDoneMsg{err: a.Start(context.Background())}
	}
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitNotice(ch <-chan board.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg{notice: n}
	}
}

func waitPushState(ch <-chan push.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return pushStateMsg{state: s}
	}
}

func waitNewQuestion(ch <-chan board.Question) tea.Cmd {
	return func() tea.Msg {
		q, ok := <-ch
		if !ok {
			return nil
		}
		return newQuestionMsg{question: q}
	}
}

func waitRefresh(r *board.Refresh) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return refreshDoneMsg{questionID: r.QuestionID, err: r.Wait(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case initDoneMsg:
		m.ready = true
		if msg.err != nil {
			m.logError(msg.err)
			m.statusLine = "initial load failed · waiting for live updates"
		} else {
			m.statusLine = fmt.Sprintf("ready · %s", m.identityLabel())
		}
		m.syncSnapshot()
		m.renderPanes()
	case noticeMsg:
		switch msg.notice.Kind {
		case board.NoticeBackgroundAnswer:
			m.appendLog(fmt.Sprintf("new answer on question %s", msg.notice.QuestionID))
		case board.NoticeQuestionUpdated:
			if q, ok := m.app.Store.Question(msg.notice.QuestionID); ok {
				m.appendLog(fmt.Sprintf("question %s is now %s", q.ID, q.Status))
			}
		}
		m.syncSnapshot()
		m.renderPanes()
		cmds = append(cmds, waitNotice(m.app.Store.Notices()))
	case pushStateMsg:
		m.pushState = msg.state
		m.polling = m.app.Poller.Running()
		m.appendLog("push channel " + msg.state.String())
		m.renderPanes()
		cmds = append(cmds, waitPushState(m.app.StateUpdates()))
	case newQuestionMsg:
		if m.app.User() != nil {
			m.statusLine = "New question received!"
		}
		m.appendLog("new question: " + compactSingleLine(msg.question.Text, 120))
		cmds = append(cmds, waitNewQuestion(m.app.NewQuestions()))
	case refreshDoneMsg:
		current := m.hasActive && m.activeID == msg.questionID
		if current {
			m.refreshing = false
		}
		if msg.err != nil {
			m.appendLog(fmt.Sprintf("answers for %s not refreshed: %v", msg.questionID, msg.err))
			if current {
				m.statusLine = "answer refresh failed · showing cached answers"
			}
		}
		m.syncSnapshot()
		m.renderPanes()
	case actionDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.appendLog("error: " + msg.err.Error())
			m.statusLine = "error: " + describeError(msg.err, msg.fallback)
		} else if strings.TrimSpace(msg.status) != "" {
			m.statusLine = msg.status
			m.appendLog(msg.status)
		}
		m.syncSnapshot()
		m.renderPanes()
	case suggestionMsg:
		m.inflight = false
		if msg.err != nil {
			m.statusLine = "error: " + describeError(msg.err, "failed to get AI suggestion")
			m.appendLog("suggest failed: " + msg.err.Error())
			break
		}
		if m.hasActive && m.activeID == msg.questionID {
			m.suggestion = msg.text
			m.statusLine = "AI suggestion ready"
		}
		m.renderPanes()
	case tickMsg:
		m.pushState = m.app.Push.State()
		m.polling = m.app.Poller.Running()
		m.syncSnapshot()
		m.renderPanes()
		cmds = append(cmds, tickEvery(redrawInterval))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.quitConfirm || m.activeTab != tabBoard {
			break
		}
		var cmd tea.Cmd
		if m.hasActive {
			m.thread, cmd = m.thread.Update(msg)
		} else {
			m.list, cmd = m.list.Update(msg)
		}
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.quitConfirm {
			switch msg.String() {
			case "y", "Y", "enter":
				return m, tea.Quit
			case "n", "N", "esc":
				m.quitConfirm = false
				m.statusLine = "quit canceled"
				m.renderPanes()
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case "esc":
			if m.activeTab != tabBoard {
				m.switchTab(tabBoard)
				return m, tea.Batch(cmds...)
			}
			if m.hasActive {
				m.closeQuestion()
				return m, tea.Batch(cmds...)
			}
			m.beginQuitConfirm()
			return m, tea.Batch(cmds...)
		case "tab":
			m.switchTab((m.activeTab + 1) % tabCount)
			return m, tea.Batch(cmds...)
		case "shift+tab":
			m.switchTab((m.activeTab + tabCount - 1) % tabCount)
			return m, tea.Batch(cmds...)
		}

		if m.activeTab != tabBoard {
			return m, tea.Batch(cmds...)
		}
		inputEmpty := strings.TrimSpace(m.input.Value()) == ""
		switch msg.String() {
		case "enter":
			if m.inflight {
				return m, tea.Batch(cmds...)
			}
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				if cmd := m.openSelected(); cmd != nil {
					cmds = append(cmds, cmd)
				}
				return m, tea.Batch(cmds...)
			}
			m.input.SetValue("")
			if strings.HasPrefix(raw, "/") {
				if cmd := m.handleSlash(raw); cmd != nil {
					cmds = append(cmds, cmd)
				}
				return m, tea.Batch(cmds...)
			}
			m.inflight = true
			if m.hasActive {
				cmds = append(cmds, m.submitAnswerCmd(m.activeID, raw))
			} else {
				cmds = append(cmds, m.submitQuestionCmd(raw))
			}
			return m, tea.Batch(cmds...)
		case "ctrl+o":
			if cmd := m.openSelected(); cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		case "ctrl+e":
			if cmd := m.statusCmd(board.StatusEscalated); cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		case "ctrl+r":
			if cmd := m.statusCmd(board.StatusAnswered); cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		case "ctrl+g":
			if cmd := m.suggestCmd(); cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		case "up":
			if inputEmpty && !m.hasActive {
				m.moveSelection(-1)
				return m, tea.Batch(cmds...)
			}
			if inputEmpty {
				m.thread.LineUp(3)
				return m, tea.Batch(cmds...)
			}
		case "down":
			if inputEmpty && !m.hasActive {
				m.moveSelection(1)
				return m, tea.Batch(cmds...)
			}
			if inputEmpty {
				m.thread.LineDown(3)
				return m, tea.Batch(cmds...)
			}
		case "pgup", "ctrl+b":
			if m.hasActive {
				m.thread.LineUp(8)
			} else {
				m.list.LineUp(8)
			}
			return m, tea.Batch(cmds...)
		case "pgdown", "ctrl+f":
			if m.hasActive {
				m.thread.LineDown(8)
			} else {
				m.list.LineDown(8)
			}
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	tail := strings.TrimSpace(strings.Join(parts[1:], " "))
	switch cmd {
	case "/help":
		m.switchTab(tabHelp)
		return nil
	case "/quit", "/exit":
		m.beginQuitConfirm()
		return nil
	case "/ask":
		if tail == "" {
			m.statusLine = "usage: /ask <question>"
			return nil
		}
		m.inflight = true
		return m.submitQuestionCmd(tail)
	case "/open":
		if tail != "" {
			id, ok := resolveQuestionRef(m.questions, tail)
			if !ok {
				m.statusLine = "no question matches " + tail
				return nil
			}
			m.selectedID = id
		}
		return m.openSelected()
	case "/close":
		if !m.hasActive {
			m.statusLine = "no question is open"
			return nil
		}
		m.closeQuestion()
		return nil
	case "/escalate":
		return m.statusCmd(board.StatusEscalated)
	case "/answered", "/resolve":
		return m.statusCmd(board.StatusAnswered)
	case "/status":
		st, ok := board.ParseStatus(tail)
		if !ok {
			m.statusLine = "usage: /status escalated|answered"
			return nil
		}
		return m.statusCmd(st)
	case "/suggest":
		return m.suggestCmd()
	case "/whoami":
		m.statusLine = m.identityLabel()
		return nil
	case "/logout":
		if err := m.app.Logout(); err != nil {
			m.logError(err)
			return nil
		}
		m.statusLine = "signed out · posting as " + board.Anonymous
		return nil
	default:
		m.statusLine = "unknown command: " + cmd
		return nil
	}
}

func (m model) submitQuestionCmd(text string) tea.Cmd {
	writes := m.app.Writes
	author := m.app.AuthorID()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		q, err := writes.SubmitQuestion(ctx, text, author)
		if err != nil {
			return actionDoneMsg{err: err, fallback: "failed to submit question"}
		}
		if q.ID == "" {
			return actionDoneMsg{status: "question submitted"}
		}
		return actionDoneMsg{status: fmt.Sprintf("question %s posted", q.ID)}
	}
}

func (m model) submitAnswerCmd(questionID board.ID, text string) tea.Cmd {
	writes := m.app.Writes
	author := m.app.AuthorID()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := writes.SubmitAnswer(ctx, questionID, text, author); err != nil {
			return actionDoneMsg{err: err, fallback: "failed to submit answer"}
		}
		return actionDoneMsg{status: "answer posted"}
	}
}

func (m *model) statusCmd(status board.Status) tea.Cmd {
	if m.inflight {
		return nil
	}
	target := m.targetQuestion()
	if target == "" {
		m.statusLine = "select a question first"
		return nil
	}
	writes := m.app.Writes
	signedIn := m.app.User() != nil
	if !signedIn {
		m.statusLine = "error: " + reconcile.ErrNotAdmin.Error()
		return nil
	}
	m.inflight = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := writes.UpdateStatus(ctx, signedIn, target, status); err != nil {
			return actionDoneMsg{err: err, fallback: "failed to update status"}
		}
		return actionDoneMsg{status: fmt.Sprintf("question %s marked %s", target, status)}
	}
}

func (m *model) suggestCmd() tea.Cmd {
	if m.inflight {
		return nil
	}
	if !m.hasActive {
		m.statusLine = "open a question to ask for a suggestion"
		return nil
	}
	writes := m.app.Writes
	id := m.activeID
	m.inflight = true
	m.suggestion = ""
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		text, err := writes.Suggest(ctx, id)
		return suggestionMsg{questionID: id, text: text, err: err}
	}
}

func (m *model) openSelected() tea.Cmd {
	if m.selectedID == "" {
		if len(m.questions) == 0 {
			m.statusLine = "no questions yet"
			return nil
		}
		m.selectedID = m.questions[0].ID
	}
	id := m.selectedID
	_, refresh := m.app.Store.ActivateQuestion(context.Background(), id)
	m.suggestion = ""
	m.refreshing = true
	m.syncSnapshot()
	m.thread.GotoTop()
	m.renderPanes()
	m.statusLine = fmt.Sprintf("question %s open · Enter posts an answer · Esc closes", id)
	return waitRefresh(refresh)
}

func (m *model) closeQuestion() {
	m.app.Store.DeactivateQuestion()
	m.suggestion = ""
	m.refreshing = false
	m.syncSnapshot()
	m.renderPanes()
	m.statusLine = "question closed"
}

// targetQuestion is the open question, else the highlighted one.
func (m *model) targetQuestion() board.ID {
	if m.hasActive {
		return m.activeID
	}
	return m.selectedID
}

func (m *model) moveSelection(delta int) {
	if len(m.questions) == 0 {
		return
	}
	idx := indexOfQuestion(m.questions, m.selectedID)
	if idx < 0 {
		idx = 0
	} else {
		idx = clampInt(idx+delta, 0, len(m.questions)-1)
	}
	m.selectedID = m.questions[idx].ID
	m.renderPanes()
	m.ensureSelectionVisible(idx)
}

// syncSnapshot copies the store's current view into the model. The model
// never mutates board state itself.
func (m *model) syncSnapshot() {
	store := m.app.Store
	m.questions = store.SortedQuestions()
	m.activeID, m.hasActive = store.ActiveQuestion()
	if m.hasActive {
		m.answers = store.ActiveAnswers()
	} else {
		m.answers = nil
	}
	if indexOfQuestion(m.questions, m.selectedID) < 0 {
		m.selectedID = ""
		if len(m.questions) > 0 {
			m.selectedID = m.questions[0].ID
		}
	}
}

func (m *model) switchTab(tab tabID) {
	m.activeTab = tab
	if tab == tabBoard {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.renderPanes()
}

func (m *model) beginQuitConfirm() {
	m.quitConfirm = true
	m.statusLine = "quit qaboard?"
}

func (m *model) identityLabel() string {
	if u := m.app.User(); u != nil {
		return "signed in as " + u.DisplayName()
	}
	return "posting as " + board.Anonymous
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > 50 {
		m.logs = m.logs[len(m.logs)-50:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + err.Error())
	m.statusLine = "error: " + compactSingleLine(err.Error(), 160)
}

// describeError prefers the server's detail text, then known local errors,
// then the fallback.
func describeError(err error, fallback string) string {
	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.Detail != "":
		return compactSingleLine(apiErr.Detail, 160)
	case errors.Is(err, reconcile.ErrEmptyText),
		errors.Is(err, reconcile.ErrNotActive),
		errors.Is(err, reconcile.ErrNotAdmin),
		errors.Is(err, reconcile.ErrInvalidStatus):
		return compactSingleLine(err.Error(), 160)
	case fallback != "":
		return fallback
	}
	return compactSingleLine(err.Error(), 160)
}

func indexOfQuestion(qs []board.Question, id board.ID) int {
	if id == "" {
		return -1
	}
	for i := range qs {
		if qs[i].ID == id {
			return i
		}
	}
	return -1
}

// resolveQuestionRef accepts a 1-based list position or a question id.
func resolveQuestionRef(qs []board.Question, ref string) (board.ID, bool) {
	ref = strings.TrimSpace(ref)
	if idx := indexOfQuestion(qs, board.ID(ref)); idx >= 0 {
		return qs[idx].ID, true
	}
	if n, ok := parsePosition(ref); ok && n >= 1 && n <= len(qs) {
		return qs[n-1].ID, true
	}
	return "", false
}
