package notification_handler

import (
	"context"
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"
)

// NotificationParser exposes the fields every processor notification is logged with.
type NotificationParser interface {
	GetProvider() types.PaymentProvider
	GetEventID() string
	GetEventType() string
	GetNotificationTime() time.Time
	GetUserID(ctx context.Context) (string, error)
	GetData() any
}
