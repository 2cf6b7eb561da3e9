// Package channel defines outbound notification of incident outcomes.
package channel

import (
	"context"

	"github.com/jeff4444/autoduty-backend/model"
)

// Notifier is told about incidents reaching a terminal status. Implementations
// must not block the pipeline; failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, inc *model.Incident) error
}
