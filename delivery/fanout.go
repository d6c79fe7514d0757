package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estateflow/metrics"
	"estateflow/notification"
	"estateflow/notify"
)

// Sink is one named delivery target. Accept, when set, decides whether the
// sink wants a given delivery.
type Sink struct {
	Name      string
	Deliverer notification.Deliverer
	Accept    func(notification.Delivery) bool
}

// EmailOnly accepts deliveries on the email channel that have an address.
func EmailOnly(d notification.Delivery) bool {
	return d.Notification.Channel == notify.ChannelEmail && d.Email != ""
}

// Fanout delivers to every sink and joins their failures.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Deliver(ctx context.Context, d notification.Delivery) error {
	var errs []error
	for _, s := range f.sinks {
		if s.Accept != nil && !s.Accept(d) {
			metrics.Deliveries.WithLabelValues(s.Name, "skipped").Inc()
			continue
		}

		start := time.Now()
		err := s.Deliverer.Deliver(ctx, d)
		metrics.DeliveryDuration.WithLabelValues(s.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.Deliveries.WithLabelValues(s.Name, "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		metrics.Deliveries.WithLabelValues(s.Name, "ok").Inc()
	}
	return errors.Join(errs...)
}
