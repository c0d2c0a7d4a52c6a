package orders

import (
	"context"

	"catersync/internal/model"
)

// Notifiers fans a status change out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) StatusChanged(ctx context.Context, o model.Order, from model.Status) {
	for _, n := range ns {
		if n != nil {
			n.StatusChanged(ctx, o, from)
		}
	}
}
