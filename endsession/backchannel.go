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
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// backchannelDeliveryTimeout is the ceiling on the combined back channel
// fan out. Deliveries still in flight when it passes are abandoned.
const backchannelDeliveryTimeout = 30 * time.Second

// backchannelDelivery is one pending logout token POST.
type backchannelDelivery struct {
	clientID    string
	uri         string
	logoutToken string
}

// backchannelNotifier delivers logout tokens to relying party back channel
// logout URIs. Deliveries run in parallel, delivery failures are logged and
// never surfaced to the caller.
type backchannelNotifier struct {
	client  *http.Client
	limiter *rate.Limiter

	logger logrus.FieldLogger
}

func newBackchannelNotifier(client *http.Client, logger logrus.FieldLogger) *backchannelNotifier {
	return &backchannelNotifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(64), 8),

		logger: logger,
	}
}

// Notify posts the provided deliveries in parallel and waits for all of them
// until the fan out ceiling passes. An error is only returned when the wait
// was interrupted from the outside, never for failed deliveries.
func (n *backchannelNotifier) Notify(ctx context.Context, deliveries []*backchannelDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, backchannelDeliveryTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, delivery := range deliveries {
		wg.Add(1)
		go func(delivery *backchannelDelivery) {
			defer wg.Done()
			n.deliver(deliveryCtx, delivery)
		}(delivery)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-deliveryCtx.Done():
		if ctx.Err() != nil {
			// Interrupted from the outside.
			return ctx.Err()
		}
		n.logger.WithField("count", len(deliveries)).Warnln("back channel logout fan out ceiling reached, abandoning remaining deliveries")
		return nil
	}
}

func (n *backchannelNotifier) deliver(ctx context.Context, delivery *backchannelDelivery) {
	fields := logrus.Fields{
		"client_id": delivery.clientID,
		"uri":       delivery.uri,
	}

	if err := n.limiter.Wait(ctx); err != nil {
		metricBackchannelDeliveries.WithLabelValues("abandoned").Inc()
		n.logger.WithError(err).WithFields(fields).Warnln("back channel logout delivery abandoned")
		return
	}

	form := url.Values{}
	form.Set("logout_token", delivery.logoutToken)

	req, err := http.NewRequest(http.MethodPost, delivery.uri, strings.NewReader(form.Encode()))
	if err != nil {
		metricBackchannelDeliveries.WithLabelValues("failed").Inc()
		n.logger.WithError(err).WithFields(fields).Warnln("back channel logout delivery failed")
		return
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := n.client.Do(req)
	metricBackchannelDeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metricBackchannelDeliveries.WithLabelValues("failed").Inc()
		n.logger.WithError(err).WithFields(fields).Warnln("back channel logout delivery failed")
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metricBackchannelDeliveries.WithLabelValues("rejected").Inc()
		n.logger.WithFields(fields).WithField("status", resp.StatusCode).Warnln("back channel logout delivery rejected")
		return
	}

	metricBackchannelDeliveries.WithLabelValues("delivered").Inc()
	n.logger.WithFields(fields).Debugln("back channel logout delivered")
}
