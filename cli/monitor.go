package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/session"
)

// Feed hands session statuses and presence requests to the monitor. Publish
// and Raise never block, so they are safe to call from the session
// goroutine. Only the latest status is kept.
type Feed struct {
	mu     sync.Mutex
	status session.Status
	ready  chan struct{}
	raised chan struct{}
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		ready:  make(chan struct{}, 1),
		raised: make(chan struct{}, 1),
	}
}

// Publish records st as the latest status.
func (f *Feed) Publish(st session.Status) {
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Raise records that another instance asked this one to present itself.
func (f *Feed) Raise() {
	select {
	case f.raised <- struct{}{}:
	default:
	}
}

type statusMsg session.Status

type presentMsg struct{}

type resultMsg struct {
	notice string
	err    error
}

func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.ready:
			f.mu.Lock()
			defer f.mu.Unlock()
			return statusMsg(f.status)
		case <-f.raised:
			return presentMsg{}
		}
	}
}

// Monitor is the live status view.
type Monitor struct {
	sess     *session.Session
	feed     *Feed
	notifier *ServiceNotifier
	styles   Styles

	status session.Status
	have   bool
	notice string
	err    error
	busy   bool
}

// NewMonitor creates the monitor model. notifier may be nil.
func NewMonitor(sess *session.Session, feed *Feed, notifier *ServiceNotifier, styles Styles) Monitor {
	return Monitor{sess: sess, feed: feed, notifier: notifier, styles: styles}
}

func (m Monitor) Init() tea.Cmd {
	return m.feed.wait()
}

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		m.status = session.Status(msg)
		m.have = true
		if m.notifier != nil {
			m.notifier.Update(m.status)
		}
		return m, m.feed.wait()

	case presentMsg:
		m.notice = "Another g15-config instance asked for this window"
		m.err = nil
		return m, m.feed.wait()

	case resultMsg:
		m.busy = false
		m.notice, m.err = msg.notice, msg.err
		return m, nil
	}
	return m, nil
}

func (m Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit

	case "s":
		if m.busy {
			return m, nil
		}
		if !m.status.Service.CanStop() {
			m.err = fmt.Errorf("the desktop service is %s", strings.ToLower(m.status.Service.State.String()))
			return m, nil
		}
		m.busy = true
		sess := m.sess
		return m, func() tea.Msg {
			if err := sess.StopService(context.Background()); err != nil {
				return resultMsg{err: err}
			}
			return resultMsg{notice: "Stop requested"}
		}

	case "e":
		if m.busy || m.status.Device == "" {
			return m, nil
		}
		m.busy = true
		sess, on := m.sess, !m.status.Enabled
		return m, func() tea.Msg {
			if err := sess.SetEnabled(context.Background(), on); err != nil {
				return resultMsg{err: err}
			}
			if on {
				return resultMsg{notice: "Device enabled"}
			}
			return resultMsg{notice: "Device disabled"}
		}
	}
	return m, nil
}

func (m Monitor) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(common.AppName))
	b.WriteString("\n\n")

	if !m.have {
		b.WriteString(m.styles.Muted.Render("Waiting for status..."))
		b.WriteString("\n")
		return m.styles.Box.Render(b.String())
	}

	st := m.status
	fmt.Fprintf(&b, "%s %s\n", m.styles.Header.Render("Service: "), m.styles.ServiceState(st.Service))
	if msg := st.Service.Message(); msg != "" {
		fmt.Fprintf(&b, "%s\n", m.styles.Muted.Render(msg))
	}

	if st.Device == "" {
		b.WriteString("No device selected\n")
	} else {
		fmt.Fprintf(&b, "%s %s\n", m.styles.Header.Render("Device:  "), st.Device)
		if st.ScreenTracked {
			screen := m.styles.OK.Render("connected")
			if !st.Screen.Connected {
				screen = m.styles.Error.Render("disconnected")
				if st.Screen.LastError != "" {
					screen += " (" + st.Screen.LastError + ")"
				}
			}
			fmt.Fprintf(&b, "%s %s\n", m.styles.Header.Render("Keyboard:"), screen)
		}
		fmt.Fprintf(&b, "%s %s\n", m.styles.Header.Render("Profile: "), st.ProfileName)
		fmt.Fprintf(&b, "%s %s\n", m.styles.Header.Render("Enabled: "), yesNo(st.Enabled))
	}

	if m.err != nil {
		fmt.Fprintf(&b, "\n%s\n", m.styles.Error.Render("✗ "+m.err.Error()))
	} else if m.notice != "" {
		fmt.Fprintf(&b, "\n%s\n", m.styles.OK.Render("✓ "+m.notice))
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("s stop service • e toggle enabled • q quit"))
	return m.styles.Box.Render(b.String())
}
