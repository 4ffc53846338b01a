package broadcast

import (
	"fmt"

	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"
)

// Broadcaster serializes an event once and queues it on sessions
type Broadcaster struct {
	registry *Registry
	log      *logger.Logger
}

func New(registry *Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		log:      logger.WithComponent("broadcast"),
	}
}

func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Broadcast pushes ev to every attached session and returns how many accepted it
func (b *Broadcaster) Broadcast(ev Event) (int, error) {
	frame, err := Encode(ev)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", ev.FrameName(), err)
	}

	delivered := 0
	for _, s := range b.registry.sessions {
		if b.push(s, ev.FrameName(), frame) {
			delivered++
		}
	}
	metrics.IncrementFramesSent(ev.FrameName(), delivered)
	return delivered, nil
}

// SendTo pushes ev to one session only
func (b *Broadcaster) SendTo(sessionID string, ev Event) error {
	s, ok := b.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s is not attached", sessionID)
	}

	frame, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.FrameName(), err)
	}
	if b.push(s, ev.FrameName(), frame) {
		metrics.IncrementFramesSent(ev.FrameName(), 1)
	}
	return nil
}

func (b *Broadcaster) push(s Session, name string, frame []byte) bool {
	if s.Enqueue(frame) {
		return true
	}
	metrics.IncrementFramesDropped()
	b.log.WithFields(map[string]any{
		"session": s.ID(),
		"frame":   name,
	}).Warn("live session buffer full, dropping frame")
	return false
}
