/*
 * Copyright 2019 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package endsession

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricSessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kuma",
		Subsystem: "endsession",
		Name:      "sessions_ended_total",
		Help:      "Total number of sessions ended via the end session endpoint.",
	})

	metricBackchannelDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kuma",
		Subsystem: "endsession",
		Name:      "backchannel_logout_deliveries_total",
		Help:      "Total number of back channel logout deliveries by status.",
	}, []string{"status"})

	metricBackchannelDeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kuma",
		Subsystem: "endsession",
		Name:      "backchannel_logout_delivery_duration_seconds",
		Help:      "Duration of back channel logout delivery requests.",
	})
)

// MustRegisterMetrics registers this packages metrics collectors with the
// provided registerer.
func MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		metricSessionsEnded,
		metricBackchannelDeliveries,
		metricBackchannelDeliveryDuration,
	)
}
