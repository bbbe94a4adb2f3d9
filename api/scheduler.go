/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Replays every wallet's ledger on a fixed interval and reports wallets whose
  balance no longer matches their entries. It only reads; a failed audit is
  logged and counted, never corrected automatically.

CONFIGURATION:
  - CheckInterval: How often to run (AUDIT_INTERVAL, 0 disables)

USAGE:
  scheduler := NewAuditScheduler(service, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - wallet/audit.go: CheckLedger
  - handlers.go: AuditWallet endpoint (single wallet, on demand)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/metrics"
	"github.com/warp/wallet-ledger/wallet"
)

// AuditScheduler periodically verifies all ledgers.
type AuditScheduler struct {
	Service       *wallet.Service
	CheckInterval time.Duration
	Logger        *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewAuditScheduler(service *wallet.Service, interval time.Duration, logger *zap.Logger) *AuditScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Service:       service,
		CheckInterval: interval,
		Logger:        logger,
	}
}

// Start begins the scheduler. A non-positive interval leaves it disabled.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CheckInterval <= 0 {
		s.Logger.Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("audit scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop waits for an in-flight run to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("audit scheduler stopped")
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow audits every wallet once and returns the failing reports.
func (s *AuditScheduler) RunNow(ctx context.Context) []wallet.AuditReport {
	start := time.Now()
	reports, err := s.Service.AuditAll(ctx)
	if err != nil {
		s.Logger.Error("audit run failed", zap.Error(err))
		return nil
	}

	var failed []wallet.AuditReport
	for _, rep := range reports {
		if rep.OK() {
			continue
		}
		failed = append(failed, rep)
		metrics.AuditFailures.Inc()
		s.Logger.Error("ledger does not match balance",
			zap.String("wallet_id", string(rep.WalletID)),
			zap.String("user_id", string(rep.UserID)),
			zap.String("balance", wallet.FormatMoney(rep.Balance)),
			zap.String("ledger_sum", wallet.FormatMoney(rep.LedgerSum)),
			zap.Strings("problems", rep.Problems))
	}
	metrics.AuditedWallets.Set(float64(len(reports)))

	s.Logger.Info("audit run completed",
		zap.Int("wallets", len(reports)),
		zap.Int("failed", len(failed)),
		zap.Duration("took", time.Since(start)))
	return failed
}
