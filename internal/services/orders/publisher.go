package orders

import (
	"context"
	"errors"

	"github.com/magabrotheeeer/chatgate/internal/models"
)

// EventPublisher доставляет события жизненного цикла заказа.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error
}

// Publishers рассылает событие всем публикаторам и собирает их ошибки.
type Publishers []EventPublisher

// PublishOrderEvent реализует EventPublisher.
func (ps Publishers) PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.PublishOrderEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
