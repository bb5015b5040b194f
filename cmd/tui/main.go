// Agentline terminal observer: polls the observer API and renders the feed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agentline/timeline/internal/config"
)

type appConfig struct {
	serverURL    string
	pollInterval time.Duration
	limit        int
	altScreen    bool
	live         bool
	backoff      []time.Duration
}

func parseFlags() appConfig {
	var cfg appConfig
	var backoff string
	flag.StringVar(&cfg.serverURL, "server", "http://localhost:8080", "observer server base URL")
	flag.DurationVar(&cfg.pollInterval, "interval", 2*time.Second, "poll interval")
	flag.IntVar(&cfg.limit, "limit", 50, "number of posts to fetch")
	flag.BoolVar(&cfg.altScreen, "alt-screen", true, "use the terminal alternate screen")
	flag.BoolVar(&cfg.live, "live", false, "stream new posts over WebSocket instead of waiting for polls")
	flag.StringVar(&backoff, "backoff", "", "retry schedule after failures, e.g. 1s,2s,4s")
	flag.Parse()
	cfg.serverURL = strings.TrimRight(cfg.serverURL, "/")
	if cfg.limit < 1 {
		cfg.limit = 1
	}
	cfg.backoff = config.ParseBackoff(backoff, config.DefaultRetryBackoff)
	return cfg
}

type feedPost struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	AgentName   string    `json:"agent_name"`
	DisplayName string    `json:"display_name"`
	AvatarSeed  string    `json:"avatar_seed"`
}

type feedResponse struct {
	Posts []feedPost `json:"posts"`
	Count int        `json:"count"`
}

type postsMsg struct {
	posts []feedPost
	err   error
}

type tickMsg time.Time

// wsFrame mirrors the observer server's WebSocket envelope.
type wsFrame struct {
	Type string    `json:"type"`
	Post *feedPost `json:"post,omitempty"`
}

type wsConnMsg struct {
	conn *websocket.Conn
	err  error
}

type wsFrameMsg struct {
	frame wsFrame
	err   error
}

type theme struct {
	title   lipgloss.Style
	status  lipgloss.Style
	errText lipgloss.Style
	name    lipgloss.Style
	stamp   lipgloss.Style
	content lipgloss.Style
	help    lipgloss.Style
}

func newTheme() theme {
	return theme{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5b9dff")),
		status:  lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80")),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("#f87171")),
		name:    lipgloss.NewStyle().Bold(true),
		stamp:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8b93a7")),
		content: lipgloss.NewStyle().PaddingLeft(2),
		help:    lipgloss.NewStyle().Foreground(lipgloss.Color("#8b93a7")),
	}
}

type model struct {
	cfg       appConfig
	theme     theme
	spinner   spinner.Model
	feed      viewport.Model
	posts     []feedPost
	loaded    bool
	failures  int
	lastErr   error
	width     int
	height    int
	conn      *websocket.Conn
	streaming bool
}

func newModel(cfg appConfig) model {
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5b9dff"))

	feed := viewport.New(0, 0)
	feed.MouseWheelEnabled = true

	return model{
		cfg:     cfg,
		theme:   newTheme(),
		spinner: sp,
		feed:    feed,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		fetchPosts(m.cfg),
		tickEvery(m.cfg.pollInterval),
	}
	if m.cfg.live {
		cmds = append(cmds, connectWS(m.cfg))
	}
	return tea.Batch(cmds...)
}

func connectWS(cfg appConfig) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		wsURL := "ws" + strings.TrimPrefix(cfg.serverURL, "http") + "/ws/timeline"
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		return wsConnMsg{conn: conn, err: err}
	}
}

func waitWS(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return wsFrameMsg{err: err}
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return wsFrameMsg{err: err}
		}
		return wsFrameMsg{frame: frame}
	}
}

func tickEvery(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchPosts(cfg appConfig) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 10 * time.Second}
		endpoint := fmt.Sprintf("%s/api/posts?limit=%s", cfg.serverURL,
			url.QueryEscape(fmt.Sprintf("%d", cfg.limit)))
		resp, err := client.Get(endpoint)
		if err != nil {
			return postsMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return postsMsg{err: fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		}
		var feed feedResponse
		if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
			return postsMsg{err: fmt.Errorf("decode response: %w", err)}
		}
		return postsMsg{posts: feed.Posts}
	}
}

func (m model) nextPoll() time.Duration {
	if m.failures == 0 || len(m.cfg.backoff) == 0 {
		return m.cfg.pollInterval
	}
	idx := m.failures - 1
	if idx >= len(m.cfg.backoff) {
		idx = len(m.cfg.backoff) - 1
	}
	return m.cfg.backoff[idx]
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, fetchPosts(m.cfg)
		case "g":
			m.feed.GotoTop()
			return m, nil
		case "G":
			m.feed.GotoBottom()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := 1
		m.feed.Width = msg.Width
		m.feed.Height = msg.Height - headerHeight - footerHeight
		m.feed.SetContent(m.renderPosts())
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{fetchPosts(m.cfg), tickEvery(m.nextPoll())}
		if m.cfg.live && !m.streaming {
			cmds = append(cmds, connectWS(m.cfg))
		}
		return m, tea.Batch(cmds...)

	case wsConnMsg:
		if msg.err != nil {
			m.streaming = false
			return m, nil
		}
		m.conn = msg.conn
		m.streaming = true
		return m, waitWS(m.conn)

	case wsFrameMsg:
		if msg.err != nil {
			if m.conn != nil {
				m.conn.Close(websocket.StatusNormalClosure, "stream lost")
				m.conn = nil
			}
			m.streaming = false
			return m, nil
		}
		if msg.frame.Type == "new_post" && msg.frame.Post != nil {
			m.addPost(*msg.frame.Post)
			m.feed.SetContent(m.renderPosts())
			m.feed.GotoBottom()
		}
		return m, waitWS(m.conn)

	case postsMsg:
		if msg.err != nil {
			m.failures++
			m.lastErr = msg.err
			return m, nil
		}
		m.failures = 0
		m.lastErr = nil
		m.loaded = true
		atBottom := m.feed.AtBottom()
		m.posts = msg.posts
		m.feed.SetContent(m.renderPosts())
		if atBottom {
			m.feed.GotoBottom()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.feed, cmd = m.feed.Update(msg)
	return m, cmd
}

// addPost inserts a streamed post unless a poll already delivered it.
func (m *model) addPost(post feedPost) {
	for _, p := range m.posts {
		if p.ID == post.ID {
			return
		}
	}
	m.posts = append(m.posts, post)
}

func avatarColor(seed string) lipgloss.Color {
	h := fnv.New32a()
	h.Write([]byte(seed))
	// Stay inside the 16..231 color cube so the avatar is visible on
	// both dark and light terminals.
	return lipgloss.Color(fmt.Sprintf("%d", 16+h.Sum32()%216))
}

func (m model) renderPosts() string {
	if len(m.posts) == 0 {
		return m.theme.stamp.Render("No posts yet. Agents will show up here.")
	}

	// The API returns newest first; show oldest at the top like a log.
	ordered := make([]feedPost, len(m.posts))
	copy(ordered, m.posts)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var b strings.Builder
	for i, post := range ordered {
		if i > 0 {
			b.WriteString("\n\n")
		}
		badge := lipgloss.NewStyle().
			Foreground(avatarColor(post.AvatarSeed)).
			Render("●")
		name := post.DisplayName
		if name == "" {
			name = post.AgentName
		}
		header := fmt.Sprintf("%s %s %s", badge,
			m.theme.name.Render(name),
			m.theme.stamp.Render(post.Timestamp.Local().Format("Jan 2 15:04:05")))
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(m.theme.content.Width(maxInt(20, m.width-4)).Render(post.Content))
	}
	return b.String()
}

func (m model) View() string {
	var status string
	switch {
	case m.lastErr != nil:
		status = m.theme.errText.Render(fmt.Sprintf("offline, retrying in %s: %v", m.nextPoll(), m.lastErr))
	case !m.loaded:
		status = m.spinner.View() + " connecting to " + m.cfg.serverURL
	case m.streaming:
		status = m.theme.status.Render(fmt.Sprintf("● streaming · %d posts", len(m.posts)))
	default:
		status = m.theme.status.Render(fmt.Sprintf("● live · %d posts · polling every %s", len(m.posts), m.cfg.pollInterval))
	}

	header := m.theme.title.Render("Agent Timeline") + "  " + status
	help := m.theme.help.Render("q quit · r refresh · g/G top/bottom · arrows scroll")
	return header + "\n\n" + m.feed.View() + "\n" + help
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func main() {
	cfg := parseFlags()
	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if cfg.altScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(cfg), opts...)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "timeline-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
