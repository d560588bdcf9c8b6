// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consumer

import (
	"log/slog"
	"sync"
)

// EventKind distinguishes arrivals from departures.
type EventKind int

const (
	// Arrived is published when a consumer registers for a key.
	Arrived EventKind = iota
	// Departed is published when a consumer unregisters.
	Departed
)

func (k EventKind) String() string {
	switch k {
	case Arrived:
		return "arrived"
	case Departed:
		return "departed"
	default:
		return "unknown"
	}
}

// Event announces a consumer arriving or departing.
type Event struct {
	Kind     EventKind
	Key      string
	Consumer Consumer
}

// Source publishes consumer arrivals and departures.
type Source interface {
	// Subscribe returns a channel of events and an unsubscribe function.
	// Consumers registered before the call are announced first.
	Subscribe() (<-chan Event, func())
}

type registration struct {
	key      string
	consumer Consumer
}

// Tracker is an in-process Source. Services register their consumers with
// it and the controller follows it.
type Tracker struct {
	mu            sync.Mutex
	registrations []registration
	subscribers   []*subscriber
	logger        *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		logger: slog.Default().With(slog.String("component", "consumer-tracker")),
	}
}

// Register announces consumer for key. Registering the same pair twice is
// a no-op. Consumers rejected by Validate are not registered.
func (t *Tracker) Register(key string, c Consumer) error {
	if err := Validate(c); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.registrations {
		if r.key == key && Same(r.consumer, c) {
			return nil
		}
	}
	t.registrations = append(t.registrations, registration{key: key, consumer: c})
	t.publish(Event{Kind: Arrived, Key: key, Consumer: c})
	return nil
}

// Unregister withdraws consumer from key.
func (t *Tracker) Unregister(key string, c Consumer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, r := range t.registrations {
		if r.key == key && Same(r.consumer, c) {
			t.registrations = append(t.registrations[:i], t.registrations[i+1:]...)
			t.publish(Event{Kind: Departed, Key: key, Consumer: c})
			return
		}
	}
}

// Len returns the number of registrations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.registrations)
}

// Subscribe implements Source.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	sub := newSubscriber()

	t.mu.Lock()
	for _, r := range t.registrations {
		sub.push(Event{Kind: Arrived, Key: r.key, Consumer: r.consumer})
	}
	t.subscribers = append(t.subscribers, sub)
	t.mu.Unlock()

	go sub.pump()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			t.mu.Lock()
			for i, s := range t.subscribers {
				if s == sub {
					t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
			close(sub.done)
		})
	}
	return sub.out, unsub
}

// publish must be called with t.mu held.
func (t *Tracker) publish(e Event) {
	t.logger.Debug("consumer "+e.Kind.String(), slog.String("key", e.Key))
	for _, s := range t.subscribers {
		s.push(e)
	}
}

// subscriber buffers events without bound so that publishers never block on
// a slow reader.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
