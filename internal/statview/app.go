// Package statview implements the operator dashboard for a running
// statagent/statstore deployment: a polling GET_SYSTEM_STATS_REQ client
// plus a bubbletea dashboard rendering gauge and local-call panels as
// braille sparklines.
package statview

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thobiasn/statpipe/internal/record"
	"github.com/thobiasn/statpipe/internal/wire"
)

// window is a graph time-range preset. Each preset also pins the
// combiner frequency a query at that range asks for, so sparklines stay
// around 60-120 points wide regardless of range.
type window struct {
	label   string
	seconds int64
	ftype   uint8
	freqs   uint8
}

var windows = []window{
	{"1m", 60, record.FreqSecond, 1},
	{"10m", 600, record.FreqSecond, 10},
	{"1h", 3600, record.FreqMinute, 1},
	{"6h", 6 * 3600, record.FreqMinute, 6},
	{"24h", 24 * 3600, record.FreqHour, 1},
}

// Filter pins the identity scope of the dashboard's queries (spec §4.8,
// §6.2's GET_SYSTEM_STATS_REQ parameters).
type Filter struct {
	Context   wire.QueryContext
	TotalView bool
	Pid       uint16
	Mid       uint16
	Iids      []uint16
}

// Config configures a dashboard Model.
type Config struct {
	Address      string
	DialTimeout  time.Duration
	PollInterval time.Duration
	Filter       Filter
}

func (c *Config) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

type statsMsg struct{ resp *wire.StatsResponse }
type statsErrMsg struct{ err error }
type tickMsg struct{}
type frameMsg struct{}

// Model is the root bubbletea model for statview.
type Model struct {
	client *Client
	cfg    Config
	theme  Theme

	windowIdx int
	width     int
	height    int

	resp        *wire.StatsResponse
	err         error
	connected   bool
	lastPollAt  time.Time
	loadFrame   int
	quitting    bool
}

// New returns a dashboard Model targeting cfg.Address.
func New(cfg Config) Model {
	cfg.setDefaults()
	return Model{
		client: NewClient(cfg.Address, cfg.DialTimeout),
		cfg:    cfg,
		theme:  TerminalTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tickCmd(m.cfg.PollInterval), loadingFrameCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.client.Close()
			return m, tea.Quit
		case "+", "=":
			if m.windowIdx < len(windows)-1 {
				m.windowIdx++
			}
			return m, m.pollCmd()
		case "-", "_":
			if m.windowIdx > 0 {
				m.windowIdx--
			}
			return m, m.pollCmd()
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.pollCmd(), tickCmd(m.cfg.PollInterval))

	case frameMsg:
		m.loadFrame++
		if m.connected {
			return m, nil
		}
		return m, loadingFrameCmd()

	case statsMsg:
		m.resp = msg.resp
		m.err = nil
		m.connected = true
		m.lastPollAt = time.Now()
		return m, nil

	case statsErrMsg:
		m.err = msg.err
		m.connected = false
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return renderDashboard(&m)
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return tickMsg{} })
}

func loadingFrameCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg { return frameMsg{} })
}

func (m Model) pollCmd() tea.Cmd {
	w := windows[m.windowIdx]
	f := m.cfg.Filter
	now := time.Now().UnixMilli()
	q := &wire.StatsQuery{
		Context:   f.Context,
		TotalView: f.TotalView,
		Start:     now - w.seconds*1000,
		End:       now,
		Ftype:     w.ftype,
		Freqs:     w.freqs,
		Pid:       f.Pid,
		Mid:       f.Mid,
		Iids:      f.Iids,
	}
	client := m.client
	return func() tea.Msg {
		resp, err := client.Query(q)
		if err != nil {
			return statsErrMsg{err: fmt.Errorf("statview: %w", err)}
		}
		return statsMsg{resp: resp}
	}
}
