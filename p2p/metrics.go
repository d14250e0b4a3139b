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

// Contains the counters used by the networking layer.

package p2p

import (
	metrics "github.com/rcrowley/go-metrics"
)

const (
	MetricsInboundConnects  = "p2p/InboundConnects"
	MetricsOutboundConnects = "p2p/OutboundConnects"
)

// ConnMetrics counts inbound and outbound connection attempts. It is an
// injected collaborator rather than process-wide state so a transport can
// be observed in isolation. All methods are safe for concurrent use and
// tolerate a nil receiver.
type ConnMetrics struct {
	Inbound  metrics.Counter
	Outbound metrics.Counter
}

// NewConnMetrics creates connection counters registered in r. The default
// metrics registry is used when r is nil.
func NewConnMetrics(r metrics.Registry) *ConnMetrics {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return &ConnMetrics{
		Inbound:  metrics.NewRegisteredCounter(MetricsInboundConnects, r),
		Outbound: metrics.NewRegisteredCounter(MetricsOutboundConnects, r),
	}
}

func (m *ConnMetrics) markInbound() {
	if m != nil {
		m.Inbound.Inc(1)
	}
}

func (m *ConnMetrics) markOutbound() {
	if m != nil {
		m.Outbound.Inc(1)
	}
}
