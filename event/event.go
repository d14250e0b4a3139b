// Copyright 2025 The nethermind Authors
// This file is part of the nethermind library.
//
// The nethermind library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The nethermind library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the nethermind library. If not, see <http://www.gnu.org/licenses/>.

// Package event implements one-to-many event subscriptions.
package event

import "sync"

// Subscription represents a stream of events. The carrier of the events is
// typically a channel, passed in at subscription time.
type Subscription interface {
	// Unsubscribe cancels the sending of events to the subscription channel.
	Unsubscribe()
}

// Feed implements one-to-many subscriptions where the carrier of events is
// a channel. Values sent to a Feed are delivered to all subscribed channels.
//
// The zero value is ready to use.
type Feed[T any] struct {
	mu   sync.Mutex
	subs map[*feedSub[T]]struct{}
}

type feedSub[T any] struct {
	feed    *Feed[T]
	channel chan<- T
	once    sync.Once
	closing chan struct{}
}

// Subscribe adds a channel to the feed. Future sends will be delivered on the
// channel until the subscription is canceled.
//
// The channel should have ample buffer space to avoid blocking senders.
// Slow subscribers are not dropped.
func (f *Feed[T]) Subscribe(channel chan<- T) Subscription {
	sub := &feedSub[T]{feed: f, channel: channel, closing: make(chan struct{})}
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[*feedSub[T]]struct{})
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

// Send delivers the value to all subscribed channels and returns the number
// of subscribers it was delivered to. Send blocks on subscribers that are
// neither ready to receive nor unsubscribed.
func (f *Feed[T]) Send(value T) (nsent int) {
	f.mu.Lock()
	subs := make([]*feedSub[T], 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.channel <- value:
			nsent++
		case <-sub.closing:
		}
	}
	return nsent
}

func (f *Feed[T]) remove(sub *feedSub[T]) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// Unsubscribe removes the channel from the feed. A Send blocked on the
// channel is released. The subscription channel is not closed.
func (sub *feedSub[T]) Unsubscribe() {
	sub.once.Do(func() {
		sub.feed.remove(sub)
		close(sub.closing)
	})
}
