package picker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/runger/livesearch/internal/config"
	"github.com/runger/livesearch/internal/livesearch"
	"github.com/runger/livesearch/internal/storage"
)

// Input receives the picker's criteria changes. *livesearch.Engine
// implements it; implementations must not block.
type Input interface {
	OnCriteriaChanged(term, language string)
}

// pickerState represents the current state of the picker's state machine.
type pickerState int

const (
	stateIdle      pickerState = iota // Term too short; nothing bound
	stateBound                        // Showing the live view for the criteria
	stateFailed                       // The engine stopped with an error
	stateCancelled                    // User cancelled (Esc / Ctrl+C)
)

// viewUpdateMsg carries an engine view update into the program.
type viewUpdateMsg struct {
	update livesearch.ViewUpdate
}

// fetchStateMsg carries the engine's fetch indicator into the program.
type fetchStateMsg struct {
	fetching bool
}

// engineErrMsg reports that the engine stopped.
type engineErrMsg struct {
	err error
}

// initMsg is sent by Init() so the initial criteria are published from
// Update, where state mutations are properly captured.
type initMsg struct{}

// Model is the Bubble Tea model for the live search picker.
// It must be exported so that internal/cmd can run it.
type Model struct {
	state     pickerState
	tabs      []config.LanguageDef
	activeTab int
	query     string
	minLen    int

	items     []storage.SearchResult
	selection int // Index into items; -1 when empty
	fetching  bool
	spinner   spinner.Model
	err       error

	input Input

	width  int // Terminal width
	height int // Terminal height

	// result holds the selected repository after the user presses Enter.
	result string
}

// NewModel creates a new picker Model. query may be empty.
func NewModel(tabs []config.LanguageDef, input Input, query string, minLen int) Model {
	if minLen < livesearch.DefaultMinTermLength {
		minLen = livesearch.DefaultMinTermLength
	}
	return Model{
		state:     stateIdle,
		tabs:      tabs,
		query:     query,
		minLen:    minLen,
		selection: -1,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		input:     input,
	}
}

// WithLanguage selects the tab whose id is id. Unknown ids leave the first
// tab selected.
func (m Model) WithLanguage(id string) Model {
	for i, t := range m.tabs {
		if t.ID == id {
			m.activeTab = i
			break
		}
	}
	return m
}

// Result returns the selected repository full name, or "" if cancelled.
func (m Model) Result() string {
	return m.result
}

// Err returns the engine error that ended the picker, if any.
func (m Model) Err() error {
	return m.err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return initMsg{} }
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case viewUpdateMsg:
		return m.handleViewUpdate(msg.update), nil

	case fetchStateMsg:
		m.fetching = msg.fetching
		if m.fetching {
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.fetching {
			return m, nil // Let the tick chain end.
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case engineErrMsg:
		m.state = stateFailed
		m.err = msg.err
		return m, tea.Quit

	case initMsg:
		m.publish()
		return m, nil
	}

	return m, nil
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.state = stateCancelled
		return m, tea.Quit

	case tea.KeyEnter:
		if m.selection >= 0 && m.selection < len(m.items) {
			m.result = m.items[m.selection].FullName
		}
		return m, tea.Quit

	case tea.KeyUp:
		if m.selection > 0 {
			m.selection--
		}
		return m, nil

	case tea.KeyDown:
		if m.selection < len(m.items)-1 {
			m.selection++
		}
		return m, nil

	case tea.KeyTab, tea.KeyShiftTab:
		if len(m.tabs) > 1 {
			step := 1
			if msg.Type == tea.KeyShiftTab {
				step = len(m.tabs) - 1
			}
			m.activeTab = (m.activeTab + step) % len(m.tabs)
			m.publish()
		}
		return m, nil

	case tea.KeyBackspace:
		if m.query != "" {
			_, size := utf8.DecodeLastRuneInString(m.query)
			m.query = m.query[:len(m.query)-size]
			m.publish()
		}
		return m, nil

	case tea.KeyCtrlU:
		if m.query != "" {
			m.query = ""
			m.publish()
		}
		return m, nil

	case tea.KeySpace:
		m.query += " "
		m.publish()
		return m, nil

	case tea.KeyRunes:
		m.query += string(msg.Runes)
		m.publish()
		return m, nil
	}

	return m, nil
}

// publish sends the current criteria to the engine.
func (m *Model) publish() {
	if m.input != nil {
		m.input.OnCriteriaChanged(m.query, m.currentLanguage())
	}
}

// handleViewUpdate applies an engine view update and moves the selection
// along with the rows it describes.
func (m Model) handleViewUpdate(u livesearch.ViewUpdate) Model {
	if u.Cleared {
		m.state = stateIdle
		m.items = nil
		m.selection = -1
		return m
	}

	prev := m.items
	m.items = u.Results
	m.state = stateBound

	if u.FullReload() {
		m.selection = reloadSelection(prev, m.selection, u.Results)
	} else {
		m.selection = FollowSelection(m.selection, u.Changes, len(u.Results))
	}
	return m
}

// reloadSelection keeps the selected row selected across a full reload when
// it is still present, and otherwise starts at the top.
func reloadSelection(prev []storage.SearchResult, sel int, next []storage.SearchResult) int {
	if len(next) == 0 {
		return -1
	}
	if sel >= 0 && sel < len(prev) {
		id := prev[sel].ID
		for i, r := range next {
			if r.ID == id {
				return i
			}
		}
	}
	return 0
}

// FollowSelection maps a selection index in the previous list to the new
// list described by cs. Deletions and insertions above the cursor shift it;
// when the selected row itself is deleted the cursor stays in place and is
// clamped to the new list.
func FollowSelection(sel int, cs *storage.ChangeSet, newLen int) int {
	if newLen == 0 {
		return -1
	}
	if sel < 0 {
		return 0
	}
	if cs != nil {
		shift := 0
		for _, d := range cs.Deletions {
			if d < sel {
				shift++
			}
		}
		sel -= shift
		// Insertions are ascending indices into the new list.
		for _, i := range cs.Insertions {
			if i <= sel {
				sel++
			}
		}
	}
	if sel >= newLen {
		sel = newLen - 1
	}
	return sel
}

// currentLanguage returns the active language id.
func (m Model) currentLanguage() string {
	if m.activeTab >= 0 && m.activeTab < len(m.tabs) {
		return m.tabs[m.activeTab].ID
	}
	return ""
}

// listHeight returns the number of visible list rows (terminal height minus
// header and footer).
func (m Model) listHeight() int {
	// 1 row for tab bar, 1 row for status, 1 row for query line
	const chrome = 3
	h := m.height - chrome
	if h < 1 {
		h = 20 // Sensible default before first WindowSizeMsg
	}
	return h
}

// --- View rendering ---

var (
	activeTabStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62"))
	inactiveTabStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	normalStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	queryStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	spinnerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.viewTabBar())
	b.WriteRune('\n')

	b.WriteString(m.viewContent())
	b.WriteRune('\n')

	b.WriteString(m.viewStatus())
	b.WriteRune('\n')

	b.WriteString(m.viewQuery())

	return b.String()
}

// viewTabBar renders the language tabs.
func (m Model) viewTabBar() string {
	var parts []string
	for i, tab := range m.tabs {
		label := tab.Label
		if label == "" {
			label = tab.ID
		}
		label = " " + label + " "
		if i == m.activeTab {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, inactiveTabStyle.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

// viewContent renders the result list or a status message.
func (m Model) viewContent() string {
	switch m.state {
	case stateIdle:
		return dimStyle.Render(fmt.Sprintf("Type at least %d characters to search", m.minLen))

	case stateFailed:
		msg := "Error"
		if m.err != nil {
			msg = fmt.Sprintf("Error: %s", m.err)
		}
		return errorStyle.Render(msg)

	case stateCancelled:
		return dimStyle.Render("Cancelled")

	case stateBound:
		if len(m.items) == 0 {
			return dimStyle.Render("No cached matches")
		}
		return m.viewList()

	default:
		return ""
	}
}

// viewList renders the visible window of results with a selection marker.
func (m Model) viewList() string {
	rows := m.listHeight()
	start := 0
	if m.selection >= rows {
		start = m.selection - rows + 1
	}
	end := min(start+rows, len(m.items))

	var b strings.Builder
	for i := start; i < end; i++ {
		// Truncate long names to terminal width (minus marker prefix).
		width := 0
		if m.width > 4 {
			width = m.width - 4
		}
		display := DisplayName(m.items[i].FullName, width)

		if i == m.selection {
			b.WriteString(selectedStyle.Render("> " + display))
		} else {
			b.WriteString(normalStyle.Render("  " + display))
		}
		if i < end-1 {
			b.WriteRune('\n')
		}
	}
	return b.String()
}

// viewStatus renders the fetch indicator and the result count.
func (m Model) viewStatus() string {
	count := ""
	if m.state == stateBound {
		count = fmt.Sprintf("%d cached", len(m.items))
	}
	if m.fetching {
		return m.spinner.View() + " " + dimStyle.Render(strings.TrimSpace("Searching GitHub "+count))
	}
	return dimStyle.Render(count)
}

// viewQuery renders the query input line.
func (m Model) viewQuery() string {
	return queryStyle.Render("> ") + m.query
}
