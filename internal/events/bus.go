package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalEvaluated     EventType = "SIGNAL_EVALUATED"
	EventTradeOpened         EventType = "TRADE_OPENED"
	EventTradeClosed         EventType = "TRADE_CLOSED"
	EventAutoCloseTriggered  EventType = "AUTO_CLOSE_TRIGGERED"
	EventCommissionDeducted  EventType = "COMMISSION_DEDUCTED"
	EventCommissionRejected  EventType = "COMMISSION_REJECTED"
	EventCooldownStarted     EventType = "COOLDOWN_STARTED"
	EventCooldownEnded       EventType = "COOLDOWN_ENDED"
	EventBotStarted          EventType = "BOT_STARTED"
	EventBotStopped          EventType = "BOT_STOPPED"
	EventError               EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer cannot stall the trading path.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(userID, positionID, symbol, action string, entryPrice float64) {
	eb.Publish(Event{
		Type:   EventTradeOpened,
		UserID: userID,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"action":      action,
			"entry_price": entryPrice,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(userID, positionID, result, exitType string, profit float64) {
	eb.Publish(Event{
		Type:   EventTradeClosed,
		UserID: userID,
		Data: map[string]interface{}{
			"position_id": positionID,
			"result":      result,
			"exit_type":   exitType,
			"profit":      profit,
		},
	})
}

// PublishAutoClose publishes an auto-close trigger event
func (eb *EventBus) PublishAutoClose(userID, positionID, reason string, profit, threshold float64) {
	eb.Publish(Event{
		Type:   EventAutoCloseTriggered,
		UserID: userID,
		Data: map[string]interface{}{
			"position_id": positionID,
			"reason":      reason,
			"profit":      profit,
			"threshold":   threshold,
		},
	})
}

// PublishCooldown publishes a cooldown lifecycle event
func (eb *EventBus) PublishCooldown(eventType EventType, userID, reason string) {
	eb.Publish(Event{
		Type:   eventType,
		UserID: userID,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(userID, component string, err error) {
	eb.Publish(Event{
		Type:   EventError,
		UserID: userID,
		Data: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}
