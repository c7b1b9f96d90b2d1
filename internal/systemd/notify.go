// Package systemd reports the recorder's lifecycle to the service manager
// when running as a systemd unit.
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. Outside systemd every call is a no-op.
type Notifier struct {
	unsetEnv bool
}

// NewNotifier returns a notifier. With unsetEnv the NOTIFY_SOCKET variable
// is cleared after the first message so child processes such as ffmpeg do
// not inherit it.
func NewNotifier(unsetEnv bool) *Notifier {
	return &Notifier{unsetEnv: unsetEnv}
}

func (n *Notifier) send(state string) (bool, error) {
	sent, err := daemon.SdNotify(n.unsetEnv, state)
	if err != nil {
		return false, fmt.Errorf("sd_notify %q: %w", state, err)
	}
	return sent, nil
}

// Ready reports that capture has started.
func (n *Notifier) Ready() (bool, error) {
	return n.send(daemon.SdNotifyReady)
}

// Stopping reports that the pipeline is draining.
func (n *Notifier) Stopping() (bool, error) {
	return n.send(daemon.SdNotifyStopping)
}

// Status publishes a free form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) (bool, error) {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}
