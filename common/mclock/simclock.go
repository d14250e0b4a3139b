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

package mclock

import (
	"sort"
	"sync"
	"time"
)

// Simulated implements a virtual Clock for reproducible time-sensitive
// tests. The virtual clock does not advance on its own: call Run to move
// it forward and fire due timers.
//
// Testing timeout behavior involving goroutines needs care: first perform
// the action that is supposed to time out, wait for its timer with
// WaitForTimers, then run the clock past the timeout and observe the
// effect through a channel.
type Simulated struct {
	mu        sync.Mutex
	cond      *sync.Cond
	now       AbsTime
	scheduled []*simTimer
	lastID    uint64
}

type simTimer struct {
	do func()
	at AbsTime
	id uint64
	s  *Simulated
}

func (s *Simulated) init() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
}

// Run moves the clock by the given duration, executing all timers scheduled
// within that window. Timer callbacks run on the calling goroutine.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	s.init()
	end := s.now.Add(d)
	var due []func()
	for len(s.scheduled) > 0 && s.scheduled[0].at <= end {
		s.now = s.scheduled[0].at
		due = append(due, s.scheduled[0].do)
		s.scheduled = s.scheduled[1:]
	}
	s.now = end
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// ActiveTimers returns the number of timers that haven't fired.
func (s *Simulated) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// WaitForTimers blocks until the clock has at least n scheduled timers.
func (s *Simulated) WaitForTimers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	for len(s.scheduled) < n {
		s.cond.Wait()
	}
}

// Now returns the current virtual time.
func (s *Simulated) Now() AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Sleep blocks until the clock has advanced by d.
func (s *Simulated) Sleep(d time.Duration) {
	<-s.After(d)
}

// After returns a channel which receives a value after the clock has
// advanced by d.
func (s *Simulated) After(d time.Duration) <-chan time.Time {
	after := make(chan time.Time, 1)
	s.AfterFunc(d, func() {
		after <- (time.Time{}).Add(time.Duration(s.now))
	})
	return after
}

// AfterFunc runs fn after the clock has advanced by d. Unlike with the
// system clock, fn runs on the goroutine that calls Run.
func (s *Simulated) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	s.lastID++
	ev := &simTimer{do: fn, at: s.now.Add(d), id: s.lastID, s: s}
	i := sort.Search(len(s.scheduled), func(i int) bool {
		t := s.scheduled[i]
		return ev.at < t.at || (ev.at == t.at && ev.id < t.id)
	})
	s.scheduled = append(s.scheduled, nil)
	copy(s.scheduled[i+1:], s.scheduled[i:])
	s.scheduled[i] = ev
	s.cond.Broadcast()
	return ev
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (ev *simTimer) Stop() bool {
	s := ev.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.scheduled {
		if t == ev {
			s.scheduled = append(s.scheduled[:i], s.scheduled[i+1:]...)
			s.cond.Broadcast()
			return true
		}
	}
	return false
}
