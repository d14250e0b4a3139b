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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedAfter(t *testing.T) {
	var c Simulated

	ch := c.After(100 * time.Millisecond)
	c.Run(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	c.Run(50 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, AbsTime(100*time.Millisecond), c.Now())
}

func TestSimulatedTimerOrder(t *testing.T) {
	var c Simulated
	var fired []int

	c.AfterFunc(30*time.Millisecond, func() { fired = append(fired, 3) })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, 1) })
	c.AfterFunc(20*time.Millisecond, func() { fired = append(fired, 2) })
	assert.Equal(t, 3, c.ActiveTimers())

	c.Run(time.Second)
	assert.Equal(t, []int{1, 2, 3}, fired)
	assert.Equal(t, 0, c.ActiveTimers())
}

func TestSimulatedTimerStop(t *testing.T) {
	var c Simulated

	timer := c.AfterFunc(time.Second, func() { t.Fatal("stopped timer fired") })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Run(2 * time.Second)
}
