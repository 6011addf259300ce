package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kxctl.dev/go/kxctl/internal/client"
	"kxctl.dev/go/kxctl/internal/exchange"
)

// inboxRefreshInterval is how often the inbox re-reads the request
// lists, so answers and arrivals from elsewhere show up while open.
const inboxRefreshInterval = 2 * time.Second

type inboxModel struct {
	client    *client.Client
	direction string

	rows        []requestRow
	viewport    viewport.Model
	searchInput textinput.Model
	search      string
	width       int
	height      int
	searching   bool
	selected    int
	showDetails bool
	ready       bool

	notice    string
	noticeErr bool
	loadErr   error
}

func newInboxModel(c *client.Client, direction string) inboxModel {
	ti := textinput.New()
	ti.Placeholder = "Filter by peer or phrase..."
	ti.Width = 30

	return inboxModel{
		client:      c,
		direction:   direction,
		searchInput: ti,
	}
}

func (m inboxModel) Init() tea.Cmd {
	return tea.Batch(m.loadRequests, inboxTick())
}

func (m inboxModel) loadRequests() tea.Msg {
	list, err := m.client.Requests(m.direction)
	if err != nil {
		return inboxLoadedMsg{err: err}
	}
	return inboxLoadedMsg{rows: flattenRequests(list)}
}

type inboxLoadedMsg struct {
	rows []requestRow
	err  error
}

type inboxActionMsg struct {
	verb string
	id   string
	err  error
}

type inboxTickMsg struct{}

func inboxTick() tea.Cmd {
	return tea.Tick(inboxRefreshInterval, func(time.Time) tea.Msg {
		return inboxTickMsg{}
	})
}

func (m inboxModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := 3
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
		m.viewport.SetContent(m.renderRows())
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			switch msg.String() {
			case "enter":
				m.search = m.searchInput.Value()
				m.searching = false
				m.selected = 0
				m.refresh()
				return m, nil
			case "esc":
				m.searching = false
				m.searchInput.SetValue("")
				return m, nil
			}
			var cmd tea.Cmd
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "/":
			m.searching = true
			m.searchInput.Focus()
			return m, nil
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.refresh()
			}
		case "down", "j":
			if m.selected < len(m.visibleRows())-1 {
				m.selected++
				m.refresh()
			}
		case "enter":
			m.showDetails = !m.showDetails
			m.refresh()
		case "a":
			return m.dispatch("accept")
		case "d":
			return m.dispatch("decline")
		case "r":
			return m.dispatch("revoke")
		case "t":
			return m.dispatch("retry")
		case "x":
			return m.dispatch("remove")
		case "s":
			m.direction = nextDirection(m.direction)
			m.selected = 0
			return m, m.loadRequests
		case "esc":
			m.search = ""
			m.searchInput.SetValue("")
			m.direction = ""
			m.notice = ""
			m.selected = 0
			return m, m.loadRequests
		case "pgup":
			m.viewport.ViewUp()
		case "pgdown":
			m.viewport.ViewDown()
		case "home":
			m.selected = 0
			m.refresh()
		case "end":
			if n := len(m.visibleRows()); n > 0 {
				m.selected = n - 1
				m.refresh()
			}
		}

	case inboxLoadedMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.rows = msg.rows
		}
		if n := len(m.visibleRows()); m.selected >= n && n > 0 {
			m.selected = n - 1
		}
		m.refresh()
		return m, nil

	case inboxActionMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s %s: %v", msg.verb, shortID(msg.id), msg.err)
			m.noticeErr = true
		} else {
			m.notice = fmt.Sprintf("%s %s", pastTense(msg.verb), shortID(msg.id))
			m.noticeErr = false
		}
		return m, m.loadRequests

	case inboxTickMsg:
		return m, tea.Batch(m.loadRequests, inboxTick())
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *inboxModel) refresh() {
	if m.ready {
		m.viewport.SetContent(m.renderRows())
	}
}

func nextDirection(current string) string {
	switch current {
	case "":
		return "sent"
	case "sent":
		return "received"
	default:
		return ""
	}
}

func pastTense(verb string) string {
	switch verb {
	case "retry":
		return "re-sent"
	case "remove":
		return "removed"
	default:
		return verb + "d"
	}
}

// visibleRows applies the search filter. Selection indexes refer to
// this slice, not to rows.
func (m inboxModel) visibleRows() []requestRow {
	if m.search == "" {
		return m.rows
	}

	needle := strings.ToLower(m.search)
	var out []requestRow
	for _, row := range m.rows {
		hay := strings.ToLower(row.peerLabel() + " " + row.peer() + " " + row.req.RequestPhrase)
		if strings.Contains(hay, needle) {
			out = append(out, row)
		}
	}
	return out
}

// dispatch runs an action against the selected request, first checking
// it applies to that row so the daemon round trip is saved for the
// obvious cases.
func (m inboxModel) dispatch(verb string) (tea.Model, tea.Cmd) {
	rows := m.visibleRows()
	if m.selected < 0 || m.selected >= len(rows) {
		return m, nil
	}
	row := rows[m.selected]

	var reason string
	switch verb {
	case "accept", "decline", "remove":
		if row.dir != "received" {
			reason = verb + " applies to received requests"
		} else if row.req.Status != exchange.StatusReceived {
			reason = "request already answered"
		}
	case "revoke":
		if row.dir != "sent" {
			reason = "revoke applies to sent requests"
		} else if !row.req.Status.Active() {
			reason = "request already settled"
		}
	case "retry":
		if row.dir != "sent" || row.req.Status != exchange.StatusFailed {
			reason = "retry applies to failed sends"
		}
	}
	if reason != "" {
		m.notice = reason
		m.noticeErr = true
		m.refresh()
		return m, nil
	}

	c, id := m.client, row.req.ID
	return m, func() tea.Msg {
		var err error
		switch verb {
		case "accept":
			err = c.Accept(id)
		case "decline":
			err = c.Decline(id)
		case "revoke":
			err = c.Revoke(id)
		case "retry":
			err = c.Retry(id)
		case "remove":
			err = c.Remove(id)
		}
		return inboxActionMsg{verb: verb, id: id, err: err}
	}
}

func (m inboxModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	if m.searching {
		b.WriteString("Filter: ")
		b.WriteString(m.searchInput.View())
	} else if m.notice != "" {
		noticeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
		if m.noticeErr {
			noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
		}
		b.WriteString(noticeStyle.Render(m.notice))
	} else {
		helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		b.WriteString(helpStyle.Render("[↑↓] Navigate  [Enter] Details  [a] Accept  [d] Decline  [r] Revoke  [t] Retry  [x] Remove  [s] Direction  [/] Filter  [q] Quit"))
	}

	return b.String()
}

func (m inboxModel) renderHeader() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	filterStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	countStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	dirStr := "ALL"
	if m.direction != "" {
		dirStr = m.direction
	}

	header := titleStyle.Render("Key Exchange Requests") + "  "
	header += filterStyle.Render(fmt.Sprintf("Direction: [%s]", dirStr))

	if m.search != "" {
		header += filterStyle.Render(fmt.Sprintf("  Filter: [%s]", m.search))
	}

	header += "  " + countStyle.Render(fmt.Sprintf("(%d requests)", len(m.visibleRows())))

	if m.loadErr != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
		header += "  " + errStyle.Render(m.loadErr.Error())
	}

	return header
}

func (m inboxModel) renderRows() string {
	rows := m.visibleRows()
	if len(rows) == 0 {
		emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
		return emptyStyle.Render("No key exchange requests matching the current filters.")
	}

	var b strings.Builder

	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	dirStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	selectedStyle := lipgloss.NewStyle().Background(lipgloss.Color("237"))

	for i, row := range rows {
		line := timeStyle.Render(fmt.Sprintf("%-7s", row.age())) + "  "
		line += dirStyle.Render(fmt.Sprintf("%-9s", row.dir)) + "  "
		line += statusStyle(row.req.Status).Render(fmt.Sprintf("%-10s", row.req.Status)) + "  "

		rest := fmt.Sprintf("%-18s  %s", truncate(row.peerLabel(), 18), row.req.RequestPhrase)
		width := m.width - 35
		if width > 0 {
			rest = truncate(rest, width)
		}
		line += rest

		if i == m.selected {
			padding := m.width - len([]rune(stripAnsi(line)))
			if padding > 0 {
				line += strings.Repeat(" ", padding)
			}
			line = selectedStyle.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")

		if i == m.selected && m.showDetails {
			b.WriteString(m.renderDetails(row))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func statusStyle(s exchange.Status) lipgloss.Style {
	switch s {
	case exchange.StatusAccepted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case exchange.StatusDeclined, exchange.StatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case exchange.StatusReceived:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case exchange.StatusSent:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	}
}

func (m inboxModel) renderDetails(row requestRow) string {
	detailStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		PaddingLeft(4)

	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	req := row.req
	var lines []string
	lines = append(lines, keyStyle.Render("ID: ")+req.ID)
	lines = append(lines, keyStyle.Render("Peer: ")+row.peer())
	if req.DisplayName != "" {
		lines = append(lines, keyStyle.Render("Name: ")+req.DisplayName)
	}
	lines = append(lines, keyStyle.Render("Phrase: ")+req.RequestPhrase)
	lines = append(lines, keyStyle.Render("Created: ")+time.UnixMilli(req.Timestamp).Format("2006-01-02 15:04:05"))
	if req.RespondedAt != nil {
		lines = append(lines, keyStyle.Render("Answered: ")+time.UnixMilli(*req.RespondedAt).Format("2006-01-02 15:04:05"))
	}
	if req.PublicKey != "" {
		lines = append(lines, keyStyle.Render("Peer key: ")+"delivered")
	}

	return detailStyle.Render(strings.Join(lines, "\n"))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// stripAnsi removes ANSI escape codes for length calculation
func stripAnsi(s string) string {
	result := s
	for {
		start := strings.Index(result, "\x1b[")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "m")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+1:]
	}
	return result
}

func runInbox(c *client.Client, direction string) error {
	// Long-poll friendly timeout; actions piggyback on the same client
	c.SetTimeout(10 * time.Second)

	p := tea.NewProgram(newInboxModel(c, direction), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
