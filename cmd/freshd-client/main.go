// Minimal reference client: enough to drive and observe the wire
// protocol end to end, not a full terminal UI (that rendering surface
// is explicitly out of scope).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/width"

	"freshd/internal/config"
	"freshd/internal/protocol"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("99")).Foreground(lipgloss.Color("255")).Padding(0, 1)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	sysStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type serverLineMsg map[string]json.RawMessage
type disconnectedMsg struct{}

type model struct {
	conn net.Conn
	name string

	transcript []string
	incoming   chan serverLineMsg

	ready    bool
	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
}

func newModel(conn net.Conn, name string, incoming chan serverLineMsg) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /join, /priv, /who, /op ..."
	ti.Focus()
	return model{conn: conn, name: name, incoming: incoming, input: ti}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.incoming))
}

func waitForLine(ch chan serverLineMsg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return v
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-2)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 2
		}
		m.input.Width = msg.Width - 2
		return m, nil

	case serverLineMsg:
		m.append(renderServerLine(msg))
		return m, waitForLine(m.incoming)

	case disconnectedMsg:
		m.append(sysStyle.Render("disconnected from server"))
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			sendRcvr(m.conn, protocol.Rcvr{Kind: protocol.RcvLogout, Str: "Goodbye."})
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			if line == "/quit" {
				sendRcvr(m.conn, protocol.Rcvr{Kind: protocol.RcvLogout, Str: "Goodbye."})
				return m, tea.Quit
			}
			sendRcvr(m.conn, parseInput(line))
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) append(line string) {
	m.transcript = append(m.transcript, line)
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}
	hdr := headerStyle.Width(m.width).Render(fmt.Sprintf(" freshd  ·  %s ", m.name))
	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), m.input.View())
}

// renderServerLine renders one decoded externally-tagged Sndr object
// for display. It inspects the single top-level tag directly rather
// than decoding into protocol.Sndr (which is write-only on this side).
func renderServerLine(line serverLineMsg) string {
	for tag, raw := range line {
		switch tag {
		case "Text":
			var p struct {
				Who   string   `json:"who"`
				Lines []string `json:"lines"`
			}
			_ = json.Unmarshal(raw, &p)
			return fmt.Sprintf("%s: %s", p.Who, strings.Join(p.Lines, " "))
		case "Priv":
			var p struct {
				Who  string `json:"who"`
				Text string `json:"text"`
			}
			_ = json.Unmarshal(raw, &p)
			return fmt.Sprintf("[private] %s: %s", p.Who, p.Text)
		case "Info":
			var s string
			_ = json.Unmarshal(raw, &s)
			return infoStyle.Render(s)
		case "Err":
			var s string
			_ = json.Unmarshal(raw, &s)
			return errStyle.Render(s)
		case "Misc":
			var p struct {
				What string   `json:"what"`
				Data []string `json:"data"`
				Alt  string   `json:"alt"`
			}
			_ = json.Unmarshal(raw, &p)
			if p.What == "roster" {
				return sysStyle.Render(renderRoster(p.Data))
			}
			return sysStyle.Render(p.Alt)
		case "Logout":
			var s string
			_ = json.Unmarshal(raw, &s)
			return sysStyle.Render("logged out: " + s)
		case "Ping":
			return ""
		}
	}
	return ""
}

// parseInput turns one line of user input into a Rcvr request: plain
// text becomes Text{lines}, a "/command" line is parsed against the
// handful of slash commands the wire protocol exposes.
func parseInput(line string) protocol.Rcvr {
	if !strings.HasPrefix(line, "/") {
		return protocol.Rcvr{Kind: protocol.RcvText, Lines: []string{line}}
	}
	fields := strings.SplitN(line[1:], " ", 2)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch cmd {
	case "join":
		return protocol.Rcvr{Kind: protocol.RcvJoin, Str: arg}
	case "name":
		return protocol.Rcvr{Kind: protocol.RcvName, Str: arg}
	case "block":
		return protocol.Rcvr{Kind: protocol.RcvBlock, Str: arg}
	case "unblock":
		return protocol.Rcvr{Kind: protocol.RcvUnblock, Str: arg}
	case "priv":
		parts := strings.SplitN(arg, " ", 2)
		who := parts[0]
		text := ""
		if len(parts) > 1 {
			text = parts[1]
		}
		return protocol.Rcvr{Kind: protocol.RcvPriv, Who: who, Text: text}
	case "who":
		return protocol.Rcvr{Kind: protocol.RcvQuery, QueryWhat: "who", QueryArg: arg}
	case "rooms":
		return protocol.Rcvr{Kind: protocol.RcvQuery, QueryWhat: "rooms", QueryArg: arg}
	case "roster":
		return protocol.Rcvr{Kind: protocol.RcvQuery, QueryWhat: "roster"}
	case "addr":
		return protocol.Rcvr{Kind: protocol.RcvQuery, QueryWhat: "addr"}
	case "op":
		return parseOp(arg)
	default:
		return protocol.Rcvr{Kind: protocol.RcvText, Lines: []string{line}}
	}
}

func parseOp(arg string) protocol.Rcvr {
	parts := strings.SplitN(arg, " ", 2)
	sub := parts[0]
	name := ""
	if len(parts) > 1 {
		name = parts[1]
	}
	switch sub {
	case "open":
		return protocol.Rcvr{Kind: protocol.RcvOpMsg, Op: protocol.RcvOp{Kind: protocol.OpOpen}}
	case "close":
		return protocol.Rcvr{Kind: protocol.RcvOpMsg, Op: protocol.RcvOp{Kind: protocol.OpClose}}
	case "kick":
		return protocol.Rcvr{Kind: protocol.RcvOpMsg, Op: protocol.RcvOp{Kind: protocol.OpKick, Name: name}}
	case "invite":
		return protocol.Rcvr{Kind: protocol.RcvOpMsg, Op: protocol.RcvOp{Kind: protocol.OpInvite, Name: name}}
	case "give":
		return protocol.Rcvr{Kind: protocol.RcvOpMsg, Op: protocol.RcvOp{Kind: protocol.OpGive, Name: name}}
	default:
		return protocol.Rcvr{Kind: protocol.RcvOpMsg, Op: protocol.RcvOp{Kind: protocol.OpOpen}}
	}
}

// renderRoster pads each name to a shared column width, measuring
// visual width rather than rune count so east-asian-wide display names
// line up the same as narrow ones.
func renderRoster(names []string) string {
	col := 0
	for _, n := range names {
		if w := visualWidth(n); w > col {
			col = w
		}
	}
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(n)
		for pad := col - visualWidth(n); pad > 0; pad-- {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func visualWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func sendRcvr(conn net.Conn, msg protocol.Rcvr) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = conn.Write(data)
}

func main() {
	cfg, err := config.Load("freshd.env")
	if err != nil {
		cfg.Address = "127.0.0.1:51516"
	}
	addr := flag.String("addr", cfg.Address, "server address")
	name := flag.String("name", "fresh user", "display name to request")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sendRcvr(conn, protocol.Rcvr{Kind: protocol.RcvName, Str: *name})

	incoming := make(chan serverLineMsg, 64)
	go func() {
		defer close(incoming)
		dec := json.NewDecoder(conn)
		for {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return
			}
			var line serverLineMsg
			if err := json.Unmarshal(raw, &line); err != nil {
				// A bare unit-variant frame ("Ping") isn't a tagged
				// object; there's nothing to render, just keep reading.
				continue
			}
			incoming <- line
		}
	}()

	p := tea.NewProgram(newModel(conn, *name, incoming), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
