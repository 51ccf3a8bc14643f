package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

var spinnerParts = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows a message with an animated glyph. Once stopped it shows how
// long it ran instead.
type Spinner struct {
	message atomic.Value

	value   atomic.Int32
	started time.Time
	stopped atomic.Int64 // unix nanos, 0 while running

	ticker *time.Ticker
	done   chan struct{}
}

func NewSpinner(message string) *Spinner {
	s := &Spinner{
		started: time.Now(),
		ticker:  time.NewTicker(100 * time.Millisecond),
		done:    make(chan struct{}),
	}
	s.message.Store(message)
	go s.start()
	return s
}

func (s *Spinner) SetMessage(message string) {
	s.message.Store(message)
}

func (s *Spinner) String() string {
	var sb strings.Builder
	if message, _ := s.message.Load().(string); message != "" {
		sb.WriteString(strings.TrimSpace(message))
		sb.WriteString(" ")
	}

	if stopped := s.stopped.Load(); stopped != 0 {
		elapsed := time.Unix(0, stopped).Sub(s.started)
		fmt.Fprintf(&sb, "(%s)", elapsed.Round(time.Millisecond))
		return sb.String()
	}

	sb.WriteString(spinnerParts[s.value.Load()])
	sb.WriteString(" ")
	return sb.String()
}

func (s *Spinner) start() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.value.Store((s.value.Load() + 1) % int32(len(spinnerParts)))
		}
	}
}

func (s *Spinner) Stop() {
	if s.stopped.CompareAndSwap(0, time.Now().UnixNano()) {
		s.ticker.Stop()
		close(s.done)
	}
}
