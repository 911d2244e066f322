// ABOUTME: Interactive bubbletea feed viewer driven by the feed controller.
// ABOUTME: Re-renders on controller changes; keys switch modes, interact, search, and clear notifications.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
)

// feedChangedMsg is sent when the controller reports a state change.
type feedChangedMsg struct{}

// feedClosedMsg is sent when the controller's change channel is closed.
type feedClosedMsg struct{}

// actionResultMsg carries the outcome of a database-backed action.
type actionResultMsg struct {
	status string
	err    error
}

var (
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	modeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Underline(true)
	contentStyle  = lipgloss.NewStyle().PaddingLeft(4)
	newStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// FeedModel is the bubbletea model for the live feed.
type FeedModel struct {
	ctrl       *feed.Controller
	now        func() time.Time
	spinner    spinner.Model
	comment    textinput.Model
	search     textinput.Model
	cursor     int
	commenting bool
	searching  bool
	// query is the active search; results replace the feed view while set.
	query   string
	results []*models.Post
	status     string
	statusErr  bool
	quitting   bool
}

// NewFeedModel creates a feed viewer over ctrl.
func NewFeedModel(ctrl *feed.Controller, now func() time.Time) FeedModel {
	if now == nil {
		now = time.Now
	}
	in := textinput.New()
	in.Placeholder = "Write a comment..."
	in.Width = 60

	search := textinput.New()
	search.Placeholder = "Search titles and authors..."
	search.Width = 40

	s := spinner.New()
	s.Spinner = spinner.Dot

	return FeedModel{
		ctrl:    ctrl,
		now:     now,
		spinner: s,
		comment: in,
		search:  search,
	}
}

// waitForChange blocks until the controller signals a change.
func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return feedClosedMsg{}
		}
		return feedChangedMsg{}
	}
}

// Init implements tea.Model.
func (m FeedModel) Init() tea.Cmd {
	return tea.Batch(waitForChange(m.ctrl.Changes()), m.spinner.Tick)
}

// Update implements tea.Model.
func (m FeedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case feedChangedMsg:
		m.refreshSearch()
		m.clampCursor()
		return m, waitForChange(m.ctrl.Changes())

	case feedClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case actionResultMsg:
		m.setStatus(msg.status, msg.err)
		m.refreshSearch()
		return m, nil

	case spinner.TickMsg:
		if m.ctrl.Loading() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		if m.commenting {
			return m.updateComment(msg)
		}
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m FeedModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyUp:
		m.move(-1)
		return m, nil
	case tea.KeyDown:
		m.move(1)
		return m, nil
	case tea.KeyEscape:
		if m.query != "" {
			m.clearSearch()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case tea.KeyRunes:
		if len(msg.Runes) == 0 {
			return m, nil
		}
	default:
		return m, nil
	}

	key := msg.Runes[0]
	if key >= '1' && int(key-'1') < len(models.FilterModes) {
		mode := models.FilterModes[key-'1']
		if err := m.ctrl.SetFilterMode(mode); err != nil {
			m.setStatus("", err)
			return m, nil
		}
		m.clearSearch()
		m.setStatus(mode.Label(), nil)
		return m, nil
	}

	switch key {
	case 'q':
		m.quitting = true
		return m, tea.Quit
	case 'j':
		m.move(1)
	case 'k':
		m.move(-1)
	case 'm':
		if m.ctrl.NextPage() {
			m.setStatus("Loaded more posts", nil)
		} else {
			m.setStatus("No more posts", nil)
		}
	case 'l':
		if p := m.selected(); p != nil {
			return m, m.likeCmd(p.ID)
		}
	case 'b':
		if p := m.selected(); p != nil {
			on, err := m.ctrl.Bookmark(p.ID)
			switch {
			case err != nil:
				m.setStatus("", err)
			case on:
				m.setStatus("Bookmarked", nil)
			default:
				m.setStatus("Bookmark removed", nil)
			}
			m.clampCursor()
		}
	case 'c':
		if m.selected() != nil {
			m.commenting = true
			m.comment.Reset()
			return m, m.comment.Focus()
		}
	case 'n':
		if p := m.selected(); p != nil {
			if err := m.ctrl.MarkSeen(p.ID); err != nil {
				m.setStatus("", err)
			} else {
				m.setStatus(fmt.Sprintf("Marked seen, %d new", m.ctrl.UnseenCount()), nil)
			}
		}
	case 'N':
		m.setStatus(fmt.Sprintf("Cleared %d notifications", m.ctrl.MarkAllSeen()), nil)
	case '/':
		m.searching = true
		m.search.SetValue(m.query)
		return m, m.search.Focus()
	}
	return m, nil
}

func (m FeedModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEscape:
		m.searching = false
		m.search.Blur()
		return m, nil
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		query := strings.TrimSpace(m.search.Value())
		if query == "" {
			m.clearSearch()
			return m, nil
		}
		m.query = query
		m.cursor = 0
		m.refreshSearch()
		m.setStatus(fmt.Sprintf("%d posts match %q", len(m.results), query), nil)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m *FeedModel) refreshSearch() {
	if m.query != "" {
		m.results = m.ctrl.Search(m.query)
	}
}

func (m *FeedModel) clearSearch() {
	m.query = ""
	m.results = nil
	m.cursor = 0
}

// posts returns what the list shows: search results while a query is active,
// otherwise the controller's view.
func (m FeedModel) posts() []*models.Post {
	if m.query != "" {
		return m.results
	}
	return m.ctrl.View()
}

func (m FeedModel) updateComment(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEscape:
		m.commenting = false
		m.comment.Blur()
		return m, nil
	case tea.KeyEnter:
		m.commenting = false
		m.comment.Blur()
		text := m.comment.Value()
		p := m.selected()
		if p == nil || strings.TrimSpace(text) == "" {
			return m, nil
		}
		return m, m.commentCmd(p.ID, text)
	}
	var cmd tea.Cmd
	m.comment, cmd = m.comment.Update(msg)
	return m, cmd
}

func (m FeedModel) likeCmd(id string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Like(context.Background(), id); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{status: "Liked"}
	}
}

func (m FeedModel) commentCmd(id, text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.AddComment(context.Background(), id, text); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{status: "Comment added"}
	}
}

func (m *FeedModel) setStatus(status string, err error) {
	m.statusErr = err != nil
	if err != nil {
		m.status = err.Error()
		return
	}
	m.status = status
}

func (m *FeedModel) move(delta int) {
	m.cursor += delta
	m.clampCursor()
}

func (m *FeedModel) clampCursor() {
	n := len(m.posts())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m FeedModel) selected() *models.Post {
	view := m.posts()
	if m.cursor < 0 || m.cursor >= len(view) {
		return nil
	}
	return view[m.cursor]
}

// View implements tea.Model.
func (m FeedModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(brandStyle.Render("   AGORA"))
	if unseen := m.ctrl.UnseenCount(); unseen > 0 {
		b.WriteString("  " + newStyle.Render(fmt.Sprintf("%d new", unseen)))
	}
	b.WriteString("\n\n")

	current := m.ctrl.Mode()
	tabs := make([]string, 0, len(models.FilterModes))
	for i, mode := range models.FilterModes {
		label := fmt.Sprintf("%d %s", i+1, mode.Label())
		if mode == current {
			label = modeStyle.Render(label)
		}
		tabs = append(tabs, label)
	}
	b.WriteString(strings.Join(tabs, "  "))
	b.WriteString("\n\n")
	if m.query != "" {
		b.WriteString(metaStyle.Render(fmt.Sprintf("Search: %q (esc to clear)", m.query)))
		b.WriteString("\n\n")
	}

	switch {
	case m.ctrl.Loading():
		b.WriteString(m.spinner.View())
		b.WriteString(" Loading posts...\n")
	case m.query != "" && len(m.results) == 0:
		b.WriteString(metaStyle.Render("No posts match your search."))
		b.WriteString("\n")
	case m.query != "":
		m.renderPosts(&b)
	case m.ctrl.Empty():
		if current == models.ModeBookmarked {
			b.WriteString(metaStyle.Render("No bookmarked posts yet. Press b on a post to save it."))
		} else {
			b.WriteString(metaStyle.Render("No posts yet."))
		}
		b.WriteString("\n")
	default:
		m.renderPosts(&b)
	}

	if m.commenting {
		b.WriteString("\n")
		b.WriteString(m.comment.View())
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("enter to post, esc to cancel"))
		b.WriteString("\n")
	}

	if m.searching {
		b.WriteString("\n")
		b.WriteString(m.search.View())
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("enter to search, esc to cancel"))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.statusErr {
			b.WriteString(errorStyle.Render("✗ " + m.status))
		} else {
			b.WriteString(successStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(promptStyle.Render("[1-5] mode  [j/k] move  [l]ike  [b]ookmark  [c]omment  [m]ore  [/] search  [n/N] seen  [q]uit"))
	b.WriteString("\n")
	return b.String()
}

func (m FeedModel) renderPosts(b *strings.Builder) {
	now := m.now()
	state := m.ctrl.State()
	view := m.posts()

	for i, p := range view {
		marker := "  "
		title := p.Title
		if i == m.cursor {
			marker = "> "
			title = selectedStyle.Render(title)
		}
		flags := ""
		if state.Liked[p.ID] {
			flags += " ♥"
		}
		if state.Bookmarked[p.ID] {
			flags += " ★"
		}
		if !state.Seen[p.ID] {
			flags += " " + newStyle.Render("new")
		}
		b.WriteString(marker + title + flags + "\n")
		b.WriteString("    " + metaStyle.Render(fmt.Sprintf("%s · %s · %d likes · %d comments",
			p.AuthorName, models.TimeAgo(p.CreatedAt, now), p.Likes, len(p.Comments))))
		b.WriteString("\n")

		if i == m.cursor {
			b.WriteString(contentStyle.Render(p.Content))
			b.WriteString("\n")
			for _, c := range p.Comments {
				author := c.Author
				if author == "" {
					author = models.AnonymousAuthor
				}
				b.WriteString(contentStyle.Render(metaStyle.Render(author+": ") + c.Text))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	if m.query != "" {
		return
	}
	more := ""
	if m.ctrl.HasMore() {
		more = "  [m] for more"
	}
	b.WriteString(metaStyle.Render(fmt.Sprintf("showing %d of %d%s", len(view), m.ctrl.Total(), more)))
	b.WriteString("\n")
}
