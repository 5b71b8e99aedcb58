package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prasenjit/go-apibot/internal/models"
)

// Service keeps a bounded history of store events and fans them out to live subscribers
type Service struct {
	mu          sync.RWMutex
	events      []*models.StoreEvent
	maxEvents   int
	subscribers map[string]chan *models.StoreEvent
}

// NewService creates a new event service
func NewService(maxEvents int) *Service {
	if maxEvents <= 0 {
		maxEvents = 1000
	}

	return &Service{
		events:      make([]*models.StoreEvent, 0),
		maxEvents:   maxEvents,
		subscribers: make(map[string]chan *models.StoreEvent),
	}
}

// Publish records an event and notifies subscribers
func (s *Service) Publish(event *models.StoreEvent) {
	s.mu.Lock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}

	// Sends happen under the lock so Unsubscribe cannot close a channel
	// mid-send. Slow subscribers miss events rather than block the store.
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}

	s.mu.Unlock()
}

// GetEvents returns events matching the filter, newest first
func (s *Service) GetEvents(filter *models.EventFilter) []*models.StoreEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.StoreEvent, 0)

	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]

		if filter != nil {
			if filter.Operation != "" && event.Operation != filter.Operation {
				continue
			}
			if filter.Phase != "" && event.Phase != filter.Phase {
				continue
			}
			if filter.ConfigID != 0 && event.ConfigID != filter.ConfigID {
				continue
			}
			if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
				continue
			}
		}

		result = append(result, event)

		if filter != nil && filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}

	return result
}

// Clear removes all recorded events
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make([]*models.StoreEvent, 0)
}

// Subscribe creates a subscription for live events
func (s *Service) Subscribe() (string, chan *models.StoreEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan *models.StoreEvent, 100)
	s.subscribers[id] = ch

	return id, ch
}

// Unsubscribe removes a subscription and closes its channel
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// GetStats returns event service statistics
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"totalEvents":       len(s.events),
		"maxEvents":         s.maxEvents,
		"activeSubscribers": len(s.subscribers),
	}
}
