package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/pkg/logger"
)

// LogNotifier records deliveries instead of sending them. Keys themselves are
// not logged, only how many were delivered per product.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) NotifyKeys(ctx context.Context, delivery domain.KeyDelivery) error {
	attrs := make([]any, 0, len(delivery.Allocations)+2)
	attrs = append(attrs,
		slog.String("order_id", delivery.OrderID),
		slog.String("email", delivery.Email),
	)
	for i, a := range delivery.Allocations {
		attrs = append(attrs, slog.Group(fmt.Sprintf("line_%d", i),
			slog.String("product_id", a.ProductID),
			slog.Int("keys", len(a.Keys)),
		))
	}
	logger.From(ctx, n.logger).Info("license keys delivered", attrs...)
	return nil
}
