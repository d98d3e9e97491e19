package app

import (
	"context"
	"sync"
)

// LinkSource is how the host environment delivers deep links: the link the
// process was launched with, and links that arrive while it runs.
type LinkSource interface {
	LaunchURL(ctx context.Context) (string, error)
	Listen(handler func(input any)) (stop func())
}

// StaticSource only has a launch URL. The CLI uses it: every redirect starts
// a new process.
type StaticSource struct {
	URL string
}

func (s StaticSource) LaunchURL(context.Context) (string, error) {
	return s.URL, nil
}

func (StaticSource) Listen(func(any)) func() {
	return func() {}
}

// ChannelSource delivers links pushed by an embedding host. Links pushed
// before anyone listens are queued for the first listener. Handlers run
// under the source lock, in push order, so they must not block or call
// back into the source.
type ChannelSource struct {
	launch string

	mu       sync.Mutex
	handlers map[int]func(any)
	nextID   int
	pending  []any
}

func NewChannelSource(launchURL string) *ChannelSource {
	return &ChannelSource{launch: launchURL, handlers: make(map[int]func(any))}
}

func (s *ChannelSource) LaunchURL(context.Context) (string, error) {
	return s.launch, nil
}

// Listen registers handler and hands it the queued links before returning.
func (s *ChannelSource) Listen(handler func(any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	pending := s.pending
	s.pending = nil
	for _, input := range pending {
		handler(input)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// Push hands input to every listener before it returns. It reports false
// when the input was queued because nobody listens yet.
func (s *ChannelSource) Push(input any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handlers) == 0 {
		s.pending = append(s.pending, input)
		return false
	}
	for _, h := range s.handlers {
		h(input)
	}
	return true
}
