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

package uma

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricTicketsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kuma",
		Subsystem: "uma",
		Name:      "permission_tickets_issued_total",
		Help:      "Total number of permission tickets issued.",
	})

	metricRPTsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kuma",
		Subsystem: "uma",
		Name:      "rpts_issued_total",
		Help:      "Total number of requesting party tokens issued.",
	})

	metricIntrospections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kuma",
		Subsystem: "uma",
		Name:      "rpt_introspections_total",
		Help:      "Total number of RPT introspections by result.",
	}, []string{"active"})
)

// MustRegisterMetrics registers this packages metrics collectors with the
// provided registerer.
func MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		metricTicketsIssued,
		metricRPTsIssued,
		metricIntrospections,
	)
}
