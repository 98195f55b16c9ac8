package order

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lasweety/sweetyshop/internal/logger"
	"github.com/lasweety/sweetyshop/internal/types/order"
)

// PendingLister lists orders whose confirmation is still unsent.
type PendingLister interface {
	ListPending(ctx context.Context, maxAttempts int, createdBefore time.Time) ([]order.Order, error)
}

type RetryConfig struct {
	Workers     int
	Interval    time.Duration
	MaxAttempts int
}

func workerLoop(
	ctx context.Context,
	id int,
	jobs <-chan order.Order,
	sender EmailSender,
) {
	log := logger.Log.With(zap.Int("worker", id))
	log.Debug("mail worker started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("mail worker stopped by context")
			return

		case o, ok := <-jobs:
			if !ok {
				log.Debug("jobs channel closed")
				return
			}

			err := sender.SendConfirmation(ctx, &o)
			switch {
			case err == nil:
				log.Info("confirmation retried", zap.String("order_number", o.OrderNumber))
			case errors.Is(err, ErrAlreadySent):
				log.Debug("confirmation already claimed", zap.String("order_id", o.ID))
			default:
				log.Error("confirmation retry failed",
					zap.String("order_id", o.ID),
					zap.Int("attempts", o.EmailAttempts+1),
					zap.Error(err),
				)
			}
		}
	}
}

// DispatcherLoop periodically feeds unsent confirmations to a pool of
// workers. Only orders created before the previous tick are picked so the
// webhook keeps the first attempt.
func DispatcherLoop(
	ctx context.Context,
	lister PendingLister,
	sender EmailSender,
	cfg RetryConfig,
) {
	if cfg.Interval <= 0 || cfg.Workers <= 0 {
		return
	}
	jobs := make(chan order.Order, cfg.Workers*3)

	for i := 1; i <= cfg.Workers; i++ {
		go workerLoop(ctx, i, jobs, sender)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	lastTick := time.Now()
	logger.Log.Info("mail retry dispatcher started",
		zap.Duration("interval", cfg.Interval),
		zap.Int("workers", cfg.Workers),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("mail retry dispatcher stopped")
			close(jobs)
			return
		case tick := <-ticker.C:
			orders, err := lister.ListPending(ctx, cfg.MaxAttempts, lastTick)
			lastTick = tick
			if err != nil {
				logger.Log.Error("list pending emails", zap.Error(err))
				continue
			}
			if len(orders) == 0 {
				continue
			}
			logger.Log.Info("pending confirmations found", zap.Int("count", len(orders)))
			for _, o := range orders {
				select {
				case jobs <- o:
				default:
					logger.Log.Warn("jobs channel full, skipping order this cycle", zap.String("order_id", o.ID))
				}
			}
		}
	}
}
