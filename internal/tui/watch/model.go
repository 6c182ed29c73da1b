package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 5 * time.Second

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	status    *statusMsg
	results   table.Model
	lastFetch time.Time
	lastError string

	theme Theme
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	columns := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Sub", Width: 5},
		{Title: "Category", Width: 17},
		{Title: "Status", Width: 8},
		{Title: "Alert", Width: 6},
		{Title: "Value", Width: 10},
		{Title: "When", Width: 17},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(12),
		table.WithFocused(true),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	t.SetStyles(styles)

	return &Model{
		apiURL:  apiURL,
		apiKey:  apiKey,
		results: t,
		theme:   NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchStatus(m.apiURL, m.apiKey),
		fetchResults(m.apiURL, m.apiKey),
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(
				fetchStatus(m.apiURL, m.apiKey),
				fetchResults(m.apiURL, m.apiKey),
			)
		}
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(
			fetchStatus(m.apiURL, m.apiKey),
			fetchResults(m.apiURL, m.apiKey),
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case statusMsg:
		s := msg
		m.status = &s
		m.lastFetch = time.Now()
		m.lastError = ""

	case resultsMsg:
		rows := make([]table.Row, 0, len(msg.Results))
		for _, r := range msg.Results {
			value := "-"
			if r.CalculatedValue != nil {
				value = fmt.Sprintf("%.3f", *r.CalculatedValue)
			}
			alert := ""
			if r.AlertTriggered {
				alert = "ALERT"
			}
			rows = append(rows, table.Row{
				fmt.Sprintf("%d", r.ID),
				fmt.Sprintf("%d", r.SubscriptionID),
				string(r.Category),
				r.Status,
				alert,
				value,
				r.CreatedAt.Local().Format("01-02 15:04:05"),
			})
		}
		m.results.SetRows(rows)
		m.lastFetch = time.Now()
		m.lastError = ""

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to sentinel..."
	}

	header := m.renderHeader()
	results := m.theme.Border.Render(m.results.View())

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusError.Render(fmt.Sprintf(" ! %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit  [r] Refresh  [up/down] Scroll results")

	parts := []string{header, results}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.Title.Render("sentinel watch")

	if m.status == nil {
		return lipgloss.JoinHorizontal(lipgloss.Top, title, m.theme.Dim.Render(" waiting for status..."))
	}

	uptime := (time.Duration(m.status.UptimeS) * time.Second).String()
	line := fmt.Sprintf(" %s  fp:%s  up:%s", m.status.Service, m.status.Fingerprint, uptime)

	if b := m.status.LastBatch; b != nil {
		batch := fmt.Sprintf("  last batch: %d dispatched, %d alerts, %d errors", b.Dispatched, b.Alerts, b.Errors)
		if b.Errors > 0 {
			line += m.theme.StatusError.Render(batch)
		} else if b.Alerts > 0 {
			line += m.theme.StatusAlert.Render(batch)
		} else {
			line += m.theme.StatusOK.Render(batch)
		}
	} else {
		line += m.theme.Dim.Render("  no batch yet")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, title, m.theme.Header.Render(line))
}
