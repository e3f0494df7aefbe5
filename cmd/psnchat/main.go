package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/psn-mobile/psnchat/internal/config"
	"github.com/psn-mobile/psnchat/internal/conversation"
	"github.com/psn-mobile/psnchat/internal/creds"
	"github.com/psn-mobile/psnchat/internal/obs"
	"github.com/psn-mobile/psnchat/internal/rest"
	"github.com/psn-mobile/psnchat/internal/socket"
	"github.com/psn-mobile/psnchat/internal/wire"
)

// --- Styles ---

var (
	primaryColor = lipgloss.Color("#0E7490")
	accentColor  = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineDot  = lipgloss.NewStyle().Foreground(accentColor).Render("●")
	offlineDot = lipgloss.NewStyle().Foreground(mutedColor).Render("○")
)

// --- View State ---

type viewState int

const (
	viewRecipient viewState = iota
	viewLoading
	viewChat
)

// --- Messages ---

type busMsg struct {
	event wire.Event
}

type sessionReadyMsg struct {
	session *conversation.Session
	err     error
}

type sessionUpdateMsg struct{}

type sendDoneMsg struct {
	err error
}

type connectDoneMsg struct {
	err error
}

// --- Model ---

type model struct {
	cfg     config.Config
	manager *socket.Manager
	api     *rest.Client
	store   *creds.Store
	self    creds.Credentials
	log     *slog.Logger

	busEvents chan wire.Event
	session   *conversation.Session

	recipientInput textinput.Model
	messageInput   textinput.Model
	chatViewport   viewport.Model

	view       viewState
	connected  bool
	connFatal  bool
	statusLine string
	errLine    string
	width      int
	height     int
}

func initialModel(cfg config.Config, mgr *socket.Manager, api *rest.Client, store *creds.Store, self creds.Credentials, log *slog.Logger) *model {
	recipientInput := textinput.New()
	recipientInput.Placeholder = "Member id to chat with..."
	recipientInput.Focus()
	recipientInput.CharLimit = 64
	recipientInput.Width = 40

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	chatViewport := viewport.New(80, 20)

	m := &model{
		cfg:            cfg,
		manager:        mgr,
		api:            api,
		store:          store,
		self:           self,
		log:            log,
		busEvents:      make(chan wire.Event, 32),
		recipientInput: recipientInput,
		messageInput:   messageInput,
		chatViewport:   chatViewport,
		view:           viewRecipient,
	}

	// Transport state events feed the banner; chat traffic reaches us
	// through the session's update channel instead.
	for _, kind := range []wire.Kind{
		wire.KindConnected,
		wire.KindDisconnected,
		wire.KindConnectionError,
		wire.KindMaxReconnect,
		wire.KindError,
	} {
		mgr.On(kind, func(ev wire.Event) {
			select {
			case m.busEvents <- ev:
			default:
			}
		})
	}

	return m
}

// --- Commands ---

func (m *model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		return connectDoneMsg{err: m.manager.Connect(context.Background())}
	}
}

func (m *model) waitBus() tea.Cmd {
	return func() tea.Msg {
		return busMsg{event: <-m.busEvents}
	}
}

func (m *model) waitUpdate(s *conversation.Session) tea.Cmd {
	return func() tea.Msg {
		<-s.Updates()
		return sessionUpdateMsg{}
	}
}

func (m *model) openSessionCmd(recipientID string) tea.Cmd {
	return func() tea.Msg {
		s := conversation.NewSession(m.manager, m.api, m.store, conversation.Options{
			RecipientID:      recipientID,
			BootstrapTimeout: m.cfg.BootstrapTimeout,
		}, m.log)
		if err := s.Start(context.Background()); err != nil {
			return sessionReadyMsg{err: err}
		}
		return sessionReadyMsg{session: s}
	}
}

func (m *model) sendCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		_, err := s.Send(context.Background())
		return sendDoneMsg{err: err}
	}
}

// --- Init ---

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.connectCmd(),
		m.waitBus(),
	)
}

// --- Update ---

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.teardown()
			return m, tea.Quit

		case "esc":
			switch m.view {
			case viewChat:
				m.closeSession()
				m.view = viewRecipient
				m.recipientInput.Focus()
				return m, nil
			case viewRecipient:
				m.teardown()
				return m, tea.Quit
			}

		case "ctrl+r":
			if m.connFatal {
				m.connFatal = false
				m.statusLine = "Reconnecting..."
				return m, m.connectCmd()
			}

		case "enter":
			switch m.view {
			case viewRecipient:
				recipient := strings.TrimSpace(m.recipientInput.Value())
				if recipient != "" {
					m.view = viewLoading
					m.errLine = ""
					return m, m.openSessionCmd(recipient)
				}
			case viewChat:
				if m.session != nil {
					return m, m.sendCmd()
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 8

	case connectDoneMsg:
		if msg.err != nil {
			var authErr *socket.AuthError
			if errors.As(msg.err, &authErr) {
				m.errLine = "Your session has expired. Please log in again."
			} else {
				m.statusLine = "Connection failed, retrying..."
			}
		}

	case busMsg:
		m.applyBusEvent(msg.event)
		cmds = append(cmds, m.waitBus())

	case sessionReadyMsg:
		if msg.err != nil {
			m.view = viewRecipient
			m.recipientInput.Focus()
			m.errLine = bootstrapErrorLine(msg.err)
		} else {
			m.session = msg.session
			m.view = viewChat
			m.messageInput.Reset()
			m.messageInput.Focus()
			m.refreshChatViewport()
			cmds = append(cmds, m.waitUpdate(m.session))
		}

	case sessionUpdateMsg:
		if m.session != nil {
			m.refreshChatViewport()
			if m.messageInput.Value() != m.session.Draft() {
				// A failed send restored the draft; reflect it.
				m.messageInput.SetValue(m.session.Draft())
			}
			cmds = append(cmds, m.waitUpdate(m.session))
		}

	case sendDoneMsg:
		if msg.err != nil {
			m.errLine = "Message not sent. Press Enter to retry."
		} else {
			m.errLine = ""
		}
	}

	// Route keystrokes into the focused input.
	switch m.view {
	case viewRecipient:
		m.recipientInput, _ = m.recipientInput.Update(msg)
	case viewChat:
		prev := m.messageInput.Value()
		m.messageInput, _ = m.messageInput.Update(msg)
		if m.session != nil && m.messageInput.Value() != prev {
			m.session.SetDraft(m.messageInput.Value())
		}
		m.chatViewport, _ = m.chatViewport.Update(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) applyBusEvent(ev wire.Event) {
	switch ev.Kind {
	case wire.KindConnected:
		m.connected = true
		m.connFatal = false
		m.statusLine = ""
	case wire.KindDisconnected:
		m.connected = false
		m.statusLine = "Connection lost, reconnecting..."
	case wire.KindConnectionError:
		m.connected = false
		m.statusLine = "Connection error, retrying..."
	case wire.KindMaxReconnect:
		m.connected = false
		m.connFatal = true
		m.statusLine = "Could not reach the server. Press Ctrl+R to retry."
	case wire.KindError:
		if ev.Err != nil {
			m.errLine = ev.Err.Message
		}
	}
}

func (m *model) closeSession() {
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
}

func (m *model) teardown() {
	m.closeSession()
	m.manager.Disconnect()
}

func (m *model) refreshChatViewport() {
	if m.session == nil {
		return
	}
	msgs := m.session.Messages()

	var content strings.Builder
	// The session keeps newest first; render oldest at the top.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		style := otherMessageStyle
		if msg.SenderID == m.self.UserID {
			style = ownMessageStyle
		}
		stamp := msg.Timestamp
		if stamp == "" && !msg.CreatedAt.IsZero() {
			stamp = msg.CreatedAt.Format("15:04")
		}
		line := fmt.Sprintf("%s %s: %s",
			mutedStyle.Render(stamp),
			style.Render(msg.SenderName),
			msg.Content,
		)
		content.WriteString(line + "\n")
	}
	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func bootstrapErrorLine(err error) string {
	var idErr *conversation.IdentityError
	if errors.As(err, &idErr) {
		return "Please log in again."
	}
	var bootErr *conversation.BootstrapError
	if errors.As(err, &bootErr) && bootErr.Timeout {
		return "Loading the conversation took too long. Please try again."
	}
	return "Could not open the conversation. Please try again."
}

// --- View ---

func (m *model) View() string {
	switch m.view {
	case viewRecipient:
		return m.recipientView()
	case viewLoading:
		return m.loadingView()
	case viewChat:
		return m.chatView()
	}
	return ""
}

func (m *model) recipientView() string {
	var s strings.Builder

	s.WriteString("\n")
	dot := offlineDot
	if m.connected {
		dot = onlineDot
	}
	s.WriteString(titleStyle.Render(fmt.Sprintf("%s PSN Chat · %s", dot, m.self.UserName)))
	s.WriteString("\n\n")
	s.WriteString("  Start a conversation:\n")
	s.WriteString("  " + m.recipientInput.View() + "\n\n")

	if m.errLine != "" {
		s.WriteString(errorStyle.Render("  " + m.errLine + "\n\n"))
	}
	if m.statusLine != "" {
		s.WriteString(mutedStyle.Render("  " + m.statusLine + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Enter to open • Ctrl+R to reconnect • Esc to quit\n"))
	return s.String()
}

func (m *model) loadingView() string {
	return "\n" + mutedStyle.Render("  Opening conversation...")
}

func (m *model) chatView() string {
	if m.session == nil {
		return ""
	}
	var s strings.Builder

	peer := m.session.Peer()
	dot := offlineDot
	if m.session.IsUserOnline(peer.ID) {
		dot = onlineDot
	}
	s.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", dot, peer.Name)))
	s.WriteString("\n")

	if m.statusLine != "" {
		s.WriteString(errorStyle.Render(m.statusLine))
		s.WriteString("\n")
	}

	width := m.width
	if width < 4 {
		width = 80
	}
	s.WriteString(strings.Repeat("─", width-2))
	s.WriteString("\n")
	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")

	if typing := m.session.TypingUsersFor(m.session.ConversationID()); len(typing) > 0 {
		names := make([]string, 0, len(typing))
		for _, t := range typing {
			names = append(names, t.UserName)
		}
		s.WriteString(mutedStyle.Render(strings.Join(names, ", ") + " is typing..."))
	}
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", width-2))
	s.WriteString("\n")
	s.WriteString(m.messageInput.View())
	s.WriteString("\n")

	if m.errLine != "" {
		s.WriteString(errorStyle.Render(m.errLine))
		s.WriteString("\n")
	}
	s.WriteString(helpStyle.Render("Enter to send • Esc to go back • Ctrl+C to quit"))
	return s.String()
}

// --- Main ---

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	store := creds.NewStore(cfg.Profile)
	self, err := store.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No stored login. Sign in with the mobile app first or provision credentials.")
		os.Exit(1)
	}

	mgr := socket.NewManager(socket.Config{
		URL:                  cfg.SocketURL,
		ReconnectBase:        cfg.ReconnectBase,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.HandshakeTimeout,
	}, store, logger)

	api := rest.NewClient(cfg.APIBaseURL, store, logger)

	p := tea.NewProgram(initialModel(cfg, mgr, api, store, *self, logger), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	mgr.Disconnect()
}
