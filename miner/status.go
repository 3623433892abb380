package miner

import (
	"fmt"
	"sync"

	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

// StatusChannel Unbounded FIFO of human readable messages. Push never blocks.
type StatusChannel struct {
	lock     sync.Mutex
	messages []string

	notify chan struct{}
}

func NewStatusChannel() *StatusChannel {
	return &StatusChannel{
		notify: make(chan struct{}, 1),
	}
}

func (s *StatusChannel) Push(message string) {
	utils.Logf("Miner", "%s", message)

	s.lock.Lock()
	s.messages = append(s.messages, message)
	s.lock.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *StatusChannel) Pushf(format string, v ...any) {
	s.Push(fmt.Sprintf(format, v...))
}

// Pop Oldest message, or false when empty
func (s *StatusChannel) Pop() (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.messages) == 0 {
		return "", false
	}
	message := s.messages[0]
	s.messages[0] = ""
	s.messages = s.messages[1:]
	if len(s.messages) == 0 {
		// drop the backing array once drained
		s.messages = nil
	}
	return message, true
}

func (s *StatusChannel) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.messages)
}

// Notify Receives after one or more Push calls. A single receive may cover several messages.
func (s *StatusChannel) Notify() <-chan struct{} {
	return s.notify
}
