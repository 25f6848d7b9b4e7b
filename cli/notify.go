package cli

import (
	"os/exec"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/service"
	"github.com/yllada/g15-config/session"
)

// NotificationType sets the icon and urgency of a desktop notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification is one desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

func (n Notification) args() []string {
	icon := n.Icon
	if icon == "" {
		switch n.Type {
		case NotificationWarning:
			icon = "dialog-warning"
		case NotificationError:
			icon = "dialog-error"
		default:
			icon = "input-keyboard"
		}
	}

	urgency := "low"
	switch n.Type {
	case NotificationError:
		urgency = "critical"
	case NotificationWarning:
		urgency = "normal"
	}

	return []string{
		"--app-name=" + common.AppName,
		"--icon=" + icon,
		"--urgency=" + urgency,
		n.Title,
		n.Message,
	}
}

// ShowNotification displays n using notify-send.
func ShowNotification(n Notification) {
	if err := exec.Command("notify-send", n.args()...).Run(); err != nil {
		common.LogWarn("Error showing notification: %v", err)
	}
}

// ServiceNotifier raises a notification when the desktop service changes
// between nominal, degraded and stopped.
type ServiceNotifier struct {
	show func(Notification)
	last service.Status
	seen bool
}

// NewServiceNotifier returns a notifier using show, or ShowNotification
// when show is nil.
func NewServiceNotifier(show func(Notification)) *ServiceNotifier {
	if show == nil {
		show = ShowNotification
	}
	return &ServiceNotifier{show: show}
}

// health ranks a status: stopped, degraded or nominal. Starting and
// stopping return -1.
func health(st service.Status) int {
	switch {
	case st.Nominal():
		return 2
	case st.State == service.StateStarted:
		return 1
	case st.State == service.StateStopped:
		return 0
	default:
		return -1
	}
}

// Update compares st with the last settled status. The first settled
// status only sets the baseline.
func (n *ServiceNotifier) Update(st session.Status) {
	cur := st.Service
	if health(cur) < 0 {
		return
	}
	prev, seen := n.last, n.seen
	n.last, n.seen = cur, true
	if !seen || (health(prev) == health(cur) && prev.FirstError == cur.FirstError) {
		return
	}

	switch health(cur) {
	case 2:
		n.show(Notification{
			Title:   "Keyboards connected",
			Message: "The Gnome15 desktop service is running and every keyboard is connected.",
			Type:    NotificationSuccess,
		})
	case 1:
		n.show(Notification{
			Title:   "Keyboard disconnected",
			Message: cur.Message(),
			Type:    NotificationWarning,
		})
	default:
		n.show(Notification{
			Title:   "Desktop service stopped",
			Message: cur.Message(),
			Type:    NotificationError,
		})
	}
}
