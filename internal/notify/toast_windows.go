//go:build windows

package notify

import (
	"github.com/go-toast/toast"
)

// ToastTarget shows Windows toast notifications with sound
type ToastTarget struct {
	appID string
}

// newToastTarget returns the desktop toast target
func newToastTarget() Target {
	return &ToastTarget{appID: "memory-cube"}
}

// Name returns "toast"
func (t *ToastTarget) Name() string { return "toast" }

// Send pushes a toast notification
func (t *ToastTarget) Send(title, message string) error {
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	return notification.Push()
}
