package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"propmarket_backend/internal/dto"
	"propmarket_backend/internal/locks"
	"propmarket_backend/internal/logger"

	"github.com/robfig/cron/v3"
)

const (
	sweeperName  = "payment_sweeper"
	sweepLockKey = "payments:sweeper"
)

// Sweeper - то, что умеет отменять просроченные заказы (payments.Service)
type Sweeper interface {
	SweepExpired(ctx context.Context) (*dto.SweepResponse, error)
}

// PaymentSweeper запускает очистку по расписанию. На нескольких репликах
// за один тик работает только та, что взяла блокировку.
type PaymentSweeper struct {
	sweeper  Sweeper
	locker   locks.Locker
	interval time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func NewPaymentSweeper(sweeper Sweeper, locker locks.Locker, interval time.Duration) *PaymentSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PaymentSweeper{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
	}
}

// Start запускает фоновую задачу; ctx передается в каждый проход
func (w *PaymentSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("%s already started", sweeperName)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		_, _, _ = w.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", sweeperName, err)
	}
	c.Start()
	w.cron = c

	logger.Info("Payment sweeper started", "interval", w.interval.String())
	return nil
}

// Stop ждет завершения текущего прохода
func (w *PaymentSweeper) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	logger.Info("Payment sweeper stopped")
}

// RunOnce - один проход под блокировкой. ran == false, если блокировку держит другой экземпляр.
func (w *PaymentSweeper) RunOnce(ctx context.Context) (res *dto.SweepResponse, ran bool, err error) {
	release, acquired, err := w.locker.TryAcquire(ctx, sweepLockKey, w.interval)
	if err != nil {
		logger.WorkerLog(sweeperName, "acquire_lock", err)
		return nil, false, err
	}
	if !acquired {
		logger.Debug("Sweep skipped: lock held by another instance", "worker", sweeperName)
		return nil, false, nil
	}
	defer release()

	started := time.Now()
	res, err = w.sweeper.SweepExpired(ctx)
	if err != nil {
		logger.WorkerLog(sweeperName, "sweep", err, "duration_ms", time.Since(started).Milliseconds())
		return res, true, err
	}

	logger.WorkerLog(sweeperName, "sweep", nil,
		"cancelled", res.Cancelled,
		"skipped", res.Skipped,
		"subscriptions_cancelled", res.SubscriptionsCancelled,
		"subscriptions_expired", res.SubscriptionsExpired,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, true, nil
}
