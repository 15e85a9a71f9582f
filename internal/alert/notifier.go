// Package alert raises exit alerts for unrecognized faces.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/your-org/facegate/internal/models"
)

// Publisher delivers alerts to subscribers, e.g. a NATS subject or the
// WebSocket hub.
type Publisher interface {
	PublishAlert(ctx context.Context, a models.ExitAlert) error
}

const defaultSoundTimeout = 10 * time.Second

// Notifier publishes alerts and optionally plays a sound command. The
// command runs in the background; alerts raised while it is still playing
// are published but not sounded.
type Notifier struct {
	publishers []Publisher
	command    []string
	timeout    time.Duration

	playing atomic.Bool
	done    chan struct{} // closed by the sound goroutine, for tests
	run     func(ctx context.Context, name string, args ...string) error
}

func NewNotifier(command []string, publishers ...Publisher) *Notifier {
	return &Notifier{
		publishers: publishers,
		command:    command,
		timeout:    defaultSoundTimeout,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Alert publishes a to every publisher and starts the sound command.
func (n *Notifier) Alert(ctx context.Context, a models.ExitAlert) error {
	var errs []error
	for _, p := range n.publishers {
		if err := p.PublishAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	n.sound()
	return errors.Join(errs...)
}

func (n *Notifier) sound() {
	if len(n.command) == 0 || !n.playing.CompareAndSwap(false, true) {
		return
	}

	done := make(chan struct{})
	n.done = done
	go func() {
		defer close(done)
		defer n.playing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.run(ctx, n.command[0], n.command[1:]...); err != nil {
			slog.Warn("alert sound command", "error", err, "command", n.command[0])
		}
	}()
}
