// Package conversation holds the assistant panel state: the message log, the
// streaming flag, the open/closed panel and the last surfaced error.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/assistant"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

var (
	// ErrBusy is returned by Submit while a response is still streaming.
	ErrBusy = errors.New("a response is already streaming")
	// ErrEmptyQuery is returned by Submit for a blank query.
	ErrEmptyQuery = errors.New("query is empty")
)

// Streamer produces an assistant response. *assistant.Client implements it.
type Streamer interface {
	StreamResponse(ctx context.Context, query string, alerts []models.Alert, history []models.Message, h assistant.Handler) error
}

// State is the conversation with the assistant.
type State struct {
	streamer Streamer
	log      *logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	messages  []models.Message
	streaming bool
	open      bool
	lastError string
	// generation is bumped by Clear so callbacks from a stream started
	// before the clear are dropped.
	generation uint64
	cancel     context.CancelFunc
}

// New creates an empty, closed conversation.
func New(streamer Streamer, log *logger.Logger) *State {
	if log == nil {
		log = logger.Nop()
	}
	return &State{
		streamer: streamer,
		log:      log.WithComponent("conversation"),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for message timestamps.
func (s *State) WithClock(now func() time.Time) *State {
	s.now = now
	return s
}

// AddMessage appends a message and returns its generated ID.
func (s *State) AddMessage(role models.Role, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(role, content)
}

func (s *State) addLocked(role models.Role, content string) string {
	id := uuid.NewString()
	s.messages = append(s.messages, models.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	return id
}

// UpdateMessage replaces the content of a message. It reports whether the
// message exists.
func (s *State) UpdateMessage(id, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(id); i >= 0 {
		s.messages[i].Content = content
		return true
	}
	return false
}

// AppendToMessage appends token to the content of a message. It reports
// whether the message exists.
func (s *State) AppendToMessage(id, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(id); i >= 0 {
		s.messages[i].Content += token
		return true
	}
	return false
}

func (s *State) indexLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the conversation in order.
func (s *State) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear removes every message. A stream in flight is cancelled and its
// remaining callbacks are ignored.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.lastError = ""
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// IsStreaming reports whether a response is being streamed.
func (s *State) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

// SetStreaming sets the streaming flag.
func (s *State) SetStreaming(streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = streaming
}

// Toggle opens a closed panel and closes an open one.
func (s *State) Toggle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = !s.open
}

// Close closes the panel.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
}

// IsOpen reports whether the panel is open.
func (s *State) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// LastError returns the error shown for the most recent submission, or "".
func (s *State) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Submit sends query with the selected alerts and blocks until the response
// has finished streaming into a new assistant message. The history sent is
// the conversation as it stood before this submission.
func (s *State) Submit(ctx context.Context, query string, selected []models.Alert) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrBusy
	}
	history := make([]models.Message, len(s.messages))
	copy(history, s.messages)

	s.lastError = ""
	s.addLocked(models.RoleUser, query)
	s.streaming = true
	replyID := s.addLocked(models.RoleAssistant, "")
	gen := s.generation
	s.cancel = cancel
	s.mu.Unlock()

	err := s.streamer.StreamResponse(ctx, query, selected, history, assistant.Handler{
		OnToken: func(token string) {
			s.whenCurrent(gen, func() {
				if i := s.indexLocked(replyID); i >= 0 {
					s.messages[i].Content += token
				}
			})
		},
		OnError: func(message string) {
			s.whenCurrent(gen, func() {
				s.lastError = message
				s.streaming = false
			})
		},
		OnComplete: func() {
			s.whenCurrent(gen, func() {
				s.streaming = false
			})
		},
	})

	s.mu.Lock()
	// Streaming ends whatever happened to the conversation meanwhile.
	s.streaming = false
	if s.generation == gen {
		s.cancel = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("assistant response failed", "error", err, "alerts", len(selected))
		return fmt.Errorf("assistant response: %w", err)
	}
	return nil
}

func (s *State) whenCurrent(gen uint64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		fn()
	}
}

// ScopeChanged clears the conversation and closes the panel.
func (s *State) ScopeChanged(_, _ models.Scope) {
	s.Clear()
	s.Close()
}

// SelectionHeadline is the empty-conversation prompt for n selected alerts.
func SelectionHeadline(n int) string {
	switch {
	case n == 0:
		return "Select Alerts to Analyze"
	case n == 1:
		return "1 Alert Selected"
	default:
		return fmt.Sprintf("%d Alerts Selected", n)
	}
}
