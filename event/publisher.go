// Package event is a small in-process pub-sub carrying session lifecycle
// notifications out of the connection path, so observers (audit logging,
// analytics hooks) attach without touching the protocol code.
package event

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscriber receives every payload published on its topic.
type Subscriber func(payload any)

// Publisher fans published payloads out to the subscribers of a topic. All
// subscribers of one publish run concurrently; Publish returns when every
// one of them has.
type Publisher struct {
	mu     sync.RWMutex
	log    *zap.Logger
	topics map[string][]Subscriber
}

func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{
		log:    logger.Named("event"),
		topics: make(map[string][]Subscriber),
	}
}

// NewTopic creates a topic before any subscription or publish can use it.
func (p *Publisher) NewTopic(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.topics[name]; ok {
		return fmt.Errorf("event: topic %s already created", name)
	}
	p.topics[name] = []Subscriber{}
	return nil
}

// Subscribe registers a subscriber on an existing topic.
func (p *Publisher) Subscribe(name string, fn Subscriber) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs, ok := p.topics[name]
	if !ok {
		return fmt.Errorf("event: topic %s not created", name)
	}
	p.topics[name] = append(subs, fn)
	p.log.Debug("subscriber added", zap.String("topic", name), zap.Int("count", len(subs)+1))
	return nil
}

// Publish delivers payload to every subscriber of the topic.
func (p *Publisher) Publish(name string, payload any) error {
	p.mu.RLock()
	subs, ok := p.topics[name]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("event: topic %s not created", name)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub(payload)
		}()
	}
	wg.Wait()
	return nil
}
