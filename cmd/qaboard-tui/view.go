package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"qaboard/internal/board"
	"qaboard/internal/push"
)

type uiTheme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	inputPanel  lipgloss.Style
	helpText    lipgloss.Style
	selected    lipgloss.Style
	author      lipgloss.Style
	modalFrame  lipgloss.Style
	accent      lipgloss.Style
	badges      map[board.Status]lipgloss.Style
	connLive    lipgloss.Style
	connDown    lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	amber := lipgloss.Color("#ffd166")
	bg := lipgloss.Color("#120924")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(pink).
			Foreground(lipgloss.Color("#22062f")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Background(lipgloss.Color("#2a184a")).
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		helpText: lipgloss.NewStyle().Foreground(muted),
		selected: lipgloss.NewStyle().Foreground(lipgloss.Color("#22062f")).Background(blue).Bold(true),
		author:   lipgloss.NewStyle().Foreground(mint).Bold(true),
		modalFrame: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(blue).
			Padding(1, 2),
		accent: lipgloss.NewStyle().Foreground(mint).Bold(true),
		badges: map[board.Status]lipgloss.Style{
			board.StatusEscalated: lipgloss.NewStyle().Foreground(pink).Bold(true),
			board.StatusAnswered:  lipgloss.NewStyle().Foreground(mint),
			board.StatusPending:   lipgloss.NewStyle().Foreground(amber),
		},
		connLive: lipgloss.NewStyle().Foreground(mint).Bold(true),
		connDown: lipgloss.NewStyle().Foreground(amber).Bold(true),
	}
}

func (m model) View() string {
	out := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderContent(),
		m.renderInput(),
		m.renderFooter(),
	)
	if m.quitConfirm {
		out = m.renderQuitModal()
	}
	return m.theme.root.Render(out)
}

func (m *model) renderHeader() string {
	tabs := []struct {
		id    tabID
		label string
	}{
		{tabBoard, "Board"},
		{tabActivity, "Activity"},
		{tabHelp, "Help"},
	}
	segments := make([]string, 0, len(tabs)+2)
	for _, tab := range tabs {
		style := m.theme.tabInactive
		if tab.id == m.activeTab {
			style = m.theme.tabActive
		}
		segments = append(segments, style.Render(tab.label))
	}
	segments = append(segments, " "+m.renderConnection())
	segments = append(segments, m.theme.helpText.Render(" · "+m.identityLabel()))
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(joined)
}

func (m *model) renderConnection() string {
	label := connectionLabel(m.pushState, m.polling, m.app.Config.PollInterval)
	if m.pushState == push.StateOpen {
		return m.theme.connLive.Render(label)
	}
	return m.theme.connDown.Render(label)
}

// connectionLabel summarises push and fallback state for the header.
func connectionLabel(state push.State, polling bool, every time.Duration) string {
	var label string
	switch state {
	case push.StateOpen:
		return "● live"
	case push.StateConnecting:
		label = "◌ connecting"
	case push.StateClosedError:
		label = "○ reconnecting"
	case push.StateClosedClean:
		label = "○ offline"
	default:
		label = "○ idle"
	}
	if polling {
		label += fmt.Sprintf(" · polling every %s", every)
	}
	return label
}

func (m *model) renderContent() string {
	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)

	switch m.activeTab {
	case tabBoard:
		leftWidth, rightWidth := boardPaneWidths(contentWidth)
		title := fmt.Sprintf("Questions (%d)", len(m.questions))
		left := m.theme.panel.Width(leftWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render(title) + "\n" + m.list.View(),
		)
		right := m.theme.panel.Width(rightWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render(m.threadTitle()) + "\n" + m.thread.View(),
		)
		return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	case tabActivity:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		body := "No activity yet."
		if len(m.logs) > 0 {
			start := maxInt(0, len(m.logs)-maxInt(1, contentHeight-2))
			body = strings.Join(m.logs[start:], "\n")
		}
		return panel.Render(m.theme.panelTitle.Render("Activity") + "\n" + m.theme.helpText.Render(body))
	case tabHelp:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("qaboard Help") + "\n" + m.renderHelp())
	default:
		return ""
	}
}

func (m *model) threadTitle() string {
	if !m.hasActive {
		return "Answers"
	}
	label := fmt.Sprintf("Answers · question %s (%d)", m.activeID, len(m.answers))
	if m.refreshing {
		label += " " + m.spinner.View()
	}
	return label
}

func (m *model) renderInput() string {
	contentWidth := maxInt(40, m.width-4)
	if m.activeTab != tabBoard {
		return m.theme.inputPanel.Width(contentWidth).Render(m.theme.helpText.Render("Input disabled outside Board tab. Press Tab to return."))
	}
	prefix := "ask"
	if m.hasActive {
		prefix = "answer " + m.activeID.String()
	}
	inputView := m.theme.accent.Render(prefix) + " " + m.input.View()
	if m.inflight {
		inputView = m.spinner.View() + " sending... " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

func (m *model) renderFooter() string {
	contentWidth := maxInt(40, m.width-4)
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	hints := m.theme.helpText.Render("Keys: Enter ask/answer · Up/Down select · Ctrl+O open · Esc close · Ctrl+E escalate · Ctrl+R answered · Ctrl+G suggest · Tab views · Ctrl+C quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m *model) renderQuitModal() string {
	canvasWidth := maxInt(40, m.width-4)
	canvasHeight := maxInt(12, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.5), 36, 64)
	if modalWidth > canvasWidth-2 {
		modalWidth = canvasWidth - 2
	}

	body := strings.Join([]string{
		m.theme.errorStatus.Render("LEAVE THE BOARD?"),
		m.theme.helpText.Render("The push channel will be closed cleanly."),
		"",
		m.theme.accent.Render("[Y / Enter] Quit") + "    " + m.theme.helpText.Render("[N / Esc] Return"),
	}, "\n")
	panel := m.theme.modalFrame.Width(modalWidth).Render(body)
	return lipgloss.Place(
		canvasWidth,
		canvasHeight,
		lipgloss.Center,
		lipgloss.Center,
		panel,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("#120924")),
	)
}

func (m *model) renderPanes() {
	prevListOffset := m.list.YOffset
	prevThreadOffset := m.thread.YOffset
	prevThreadAtBottom := m.thread.AtBottom()

	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)
	leftWidth, rightWidth := boardPaneWidths(contentWidth)

	m.list.Width = maxInt(20, leftWidth-4)
	m.list.Height = maxInt(5, contentHeight-3)
	m.thread.Width = maxInt(20, rightWidth-4)
	m.thread.Height = maxInt(5, contentHeight-3)

	m.list.SetContent(m.renderQuestionList())
	m.list.SetYOffset(prevListOffset)

	m.thread.SetContent(m.renderThread())
	if prevThreadAtBottom && m.thread.YOffset > 0 {
		m.thread.GotoBottom()
	} else {
		m.thread.SetYOffset(prevThreadOffset)
	}
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	m.input.Width = maxInt(20, contentWidth-16)
}

// ensureSelectionVisible scrolls the list so the two-line entry at idx fits.
func (m *model) ensureSelectionVisible(idx int) {
	row := idx * 2
	if row < m.list.YOffset {
		m.list.SetYOffset(row)
	} else if row+2 > m.list.YOffset+m.list.Height {
		m.list.SetYOffset(row + 2 - m.list.Height)
	}
}

func boardPaneWidths(contentWidth int) (left int, right int) {
	left = int(float64(contentWidth) * 0.5)
	right = contentWidth - left - 1
	if right < 32 {
		right = 32
		left = contentWidth - right - 1
	}
	return left, right
}

func (m *model) renderQuestionList() string {
	if len(m.questions) == 0 {
		return m.theme.helpText.Render("No questions yet. Type one below and press Enter.")
	}
	width := maxInt(20, m.list.Width-2)
	var b strings.Builder
	for i, q := range m.questions {
		marker := "  "
		if m.hasActive && q.ID == m.activeID {
			marker = "● "
		}
		head := fmt.Sprintf("%s%d. %s %s", marker, i+1, m.renderBadge(q.Status), m.theme.author.Render(q.Author))
		head += m.theme.helpText.Render(" · " + shortTime(q.CreatedAt))
		body := "   " + truncate(compactSingleLine(q.Text, questionPreview), width-3)
		if q.ID == m.selectedID && !m.hasActive {
			body = m.theme.selected.Render(body)
		}
		b.WriteString(head)
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) renderBadge(status board.Status) string {
	style, ok := m.theme.badges[status]
	if !ok {
		style = m.theme.helpText
	}
	return style.Render(statusBadge(status))
}

func statusBadge(status board.Status) string {
	switch status {
	case board.StatusEscalated:
		return "[ESCALATED]"
	case board.StatusAnswered:
		return "[answered]"
	case board.StatusPending, "":
		return "[pending]"
	}
	return "[" + strings.ToLower(string(status)) + "]"
}

func (m *model) renderThread() string {
	if !m.hasActive {
		return m.theme.helpText.Render("Select a question and press Enter (empty input) or Ctrl+O to read and post answers.")
	}
	width := maxInt(24, m.thread.Width-2)
	var b strings.Builder
	if q, ok := m.app.Store.Question(m.activeID); ok {
		b.WriteString(m.renderBadge(q.Status) + " " + m.theme.author.Render(q.Author))
		b.WriteString(m.theme.helpText.Render(" asked at " + shortTime(q.CreatedAt)))
		b.WriteString("\n")
		b.WriteString(wrapText(q.Text, width))
		b.WriteString("\n\n")
	}
	if len(m.answers) == 0 {
		if m.refreshing {
			b.WriteString(m.theme.helpText.Render("Loading answers..."))
		} else {
			b.WriteString(m.theme.helpText.Render("No answers yet. Be the first to answer."))
		}
	}
	for _, a := range m.answers {
		b.WriteString(m.theme.author.Render(a.Author))
		b.WriteString(m.theme.helpText.Render(" · " + shortTime(a.CreatedAt)))
		b.WriteString("\n")
		b.WriteString(wrapText(compactMessage(a.Text, answerMaxLines, answerMaxChars), width))
		b.WriteString("\n\n")
	}
	if strings.TrimSpace(m.suggestion) != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.panelTitle.Render("AI suggestion"))
		b.WriteString("\n")
		b.WriteString(wrapText(m.suggestion, width))
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderHelp() string {
	lines := []string{
		"Keys",
		"- Enter: post a question, or an answer when a question is open",
		"- Enter on empty input / Ctrl+O: open the highlighted question",
		"- Up/Down (input empty): move the highlight, or scroll answers when a question is open",
		"- PgUp/PgDn: scroll the focused pane",
		"- Esc: close the open question, otherwise quit prompt",
		"- Ctrl+E / Ctrl+R: mark escalated / answered (signed-in users)",
		"- Ctrl+G: AI suggestion for the open question",
		"- Tab / Shift+Tab: switch views · Ctrl+C: quit",
		"",
		"Slash Commands",
		"- /ask <question>",
		"- /open [position|id]",
		"- /close",
		"- /escalate · /answered · /status escalated|answered",
		"- /suggest",
		"- /whoami · /logout",
		"- /help · /quit",
		"",
		"Live Updates",
		"- Escalated questions sort first, then newest first",
		"- The header shows the push channel; while it is down the list is polled",
		"- Opening a question shows cached answers at once, then refreshes them",
	}
	return m.theme.helpText.Render(strings.Join(lines, "\n"))
}

func shortTime(ts time.Time) string {
	if ts.IsZero() {
		return "--:--"
	}
	local := ts.Local()
	if time.Since(local) < 24*time.Hour {
		return local.Format("15:04")
	}
	return local.Format("Jan 02 15:04")
}
