package notify

import (
	"context"
	"errors"

	"verity/internal/monitoring"
)

// Fanout delivers to every sink. The alert counts as delivered only when all
// sinks accepted it; a redelivery goes to all sinks again.
type Fanout struct {
	sinks []monitoring.Notifier
}

func NewFanout(sinks ...monitoring.Notifier) *Fanout {
	var kept []monitoring.Notifier
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Notify(ctx context.Context, alert monitoring.Alert) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
