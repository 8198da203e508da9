package services

import (
	"context"
	"fmt"
	"time"

	"github.com/galleryhq/marketplace/internal/audit"
	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/payment"
	"github.com/galleryhq/marketplace/internal/registry"
	"github.com/galleryhq/marketplace/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by the settlement engines.
type Deps struct {
	Store    store.Store
	Registry registry.Registry
	Payments payment.Gateway
	Events   events.Publisher
	Audit    *audit.Logger
	Logger   *zap.Logger
	Now      func() time.Time
}

// FeeConfig is fixed for the lifetime of an engine.
type FeeConfig struct {
	// Operator is the account the marketplace acts as when moving tokens.
	Operator        string
	PlatformAccount string
	PlatformFeeBps  int64
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.L()
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogger(d.Logger)
	}
	if d.Events == nil {
		d.Events = events.NewLogPublisher(d.Logger)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// publish runs after commit. A failed publish never fails the operation.
func (d Deps) publish(ctx context.Context, e events.Event) {
	e.OccurredAt = d.Now().UTC()
	if err := d.Events.Publish(ctx, e); err != nil {
		d.Logger.Warn("Failed to publish event", zap.String("type", e.Type), zap.Error(err))
	}
}

// refund returns a charge whose transaction did not commit.
func (d Deps) refund(ctx context.Context, to string, amount int64, ref string) {
	if err := d.Payments.Payout(ctx, to, amount, ref+":refund"); err != nil {
		d.Audit.LogError(ref, to, fmt.Errorf("refund of %d failed: %w", amount, err))
		return
	}
	d.Audit.LogTransfer(ref+":refund", "escrow", to, amount, audit.StatusSuccess)
}

func newReference(kind string, parts ...any) string {
	ref := kind
	for _, p := range parts {
		ref += fmt.Sprintf(":%v", p)
	}
	return ref + ":" + uuid.NewString()
}

func transferFailed(err error) error {
	return fmt.Errorf("%w: %v", ErrTransferFailed, err)
}
