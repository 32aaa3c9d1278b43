package notify

import (
	"os/exec"
	"runtime"
)

// DesktopNotifier raises a best-effort desktop notification when a
// batch finishes or a video is published. Unsupported platforms are a
// silent no-op.
type DesktopNotifier struct {
	enabled bool
}

func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + n.Message + `" with title "` + n.Title + `"`
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		return exec.Command("notify-send", "-u", urgency(n.Type), n.Title, n.Message).Run()
	default:
		return nil
	}
}

func urgency(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifySuccess:
		return "low"
	default:
		return "normal"
	}
}
