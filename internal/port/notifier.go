package port

import (
	"context"

	"github.com/rl1809/keyvault/internal/core/domain"
)

type Notifier interface {
	// NotifyKeys delivers committed keys to the purchaser
	NotifyKeys(ctx context.Context, delivery domain.KeyDelivery) error
}
