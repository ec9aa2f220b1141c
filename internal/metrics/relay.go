// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HostsOnline tracks the number of hosts with a live control channel
	// currently registered in the relay registry.
	HostsOnline = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hosts",
			Name:      "online",
			Help:      "Number of relay hosts with a live control channel",
		},
	)

	// SignatureFailures tracks rejected signed requests/frames, labeled by
	// the relaysign.ValidationError reason.
	SignatureFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signature",
			Name:      "failures_total",
			Help:      "Total number of rejected relay signatures by reason",
		},
		[]string{"reason"},
	)

	// ProxyRequestDuration tracks end-to-end browser-to-local-server proxy
	// request latency.
	ProxyRequestDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Duration of proxied browser requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ControlChannelConnects tracks successful control-channel upgrades.
	ControlChannelConnects = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control_channel",
			Name:      "connects_total",
			Help:      "Total number of agent control-channel connections accepted",
		},
	)

	// ControlChannelDisconnects tracks control-channel teardowns.
	ControlChannelDisconnects = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control_channel",
			Name:      "disconnects_total",
			Help:      "Total number of agent control-channel disconnects",
		},
	)
)
