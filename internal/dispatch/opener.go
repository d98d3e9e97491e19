package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Opener hands a URL to the operating system so the wallet can pick it up.
// It returns once the hand-off is done; the wallet's answer arrives later as
// an inbound link.
type Opener interface {
	OpenURL(ctx context.Context, rawURL string) error
}

type OpenerFunc func(ctx context.Context, rawURL string) error

func (f OpenerFunc) OpenURL(ctx context.Context, rawURL string) error {
	return f(ctx, rawURL)
}

// OutboundRequest is what ChannelOpener publishes for each hand-off.
type OutboundRequest struct {
	URL    string
	SentAt time.Time
}

var ErrOpenerClosed = errors.New("opener is closed")

// ChannelOpener publishes outbound URLs on a channel for a host that owns the
// actual hand-off (an embedding UI, a test harness).
type ChannelOpener struct {
	out  chan OutboundRequest
	done chan struct{}
}

func NewChannelOpener(buffer int) *ChannelOpener {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelOpener{
		out:  make(chan OutboundRequest, buffer),
		done: make(chan struct{}),
	}
}

func (o *ChannelOpener) Requests() <-chan OutboundRequest {
	return o.out
}

func (o *ChannelOpener) OpenURL(ctx context.Context, rawURL string) error {
	select {
	case <-o.done:
		return ErrOpenerClosed
	default:
	}
	select {
	case o.out <- OutboundRequest{URL: rawURL, SentAt: time.Now().UTC()}:
		return nil
	case <-o.done:
		return ErrOpenerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests. It is safe to call more than once.
func (o *ChannelOpener) Close() {
	select {
	case <-o.done:
	default:
		close(o.done)
	}
}

// CommandOpener runs the desktop URL handler (xdg-open, open, or
// rundll32 url.dll on windows).
type CommandOpener struct {
	Command string
	Args    []string
}

func NewCommandOpener() *CommandOpener {
	switch runtime.GOOS {
	case "darwin":
		return &CommandOpener{Command: "open"}
	case "windows":
		return &CommandOpener{Command: "rundll32", Args: []string{"url.dll,FileProtocolHandler"}}
	default:
		return &CommandOpener{Command: "xdg-open"}
	}
}

func (o *CommandOpener) OpenURL(ctx context.Context, rawURL string) error {
	command := strings.TrimSpace(o.Command)
	if command == "" {
		return errors.New("url handler command is not configured")
	}
	args := append(append([]string(nil), o.Args...), rawURL)
	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s: %w", command, err)
		}
		return fmt.Errorf("%s: %w: %s", command, err, msg)
	}
	return nil
}
