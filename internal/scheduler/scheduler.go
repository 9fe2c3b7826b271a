// Package scheduler drives the vault's permissionless maintenance calls on
// cron schedules: rolling into the next series, settling at maturity,
// sweeping past-series value and reporting status.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"YieldRoller/internal/notifier"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/vault"
)

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Roller   *vault.Roller
	Notifier *notifier.TelegramNotifier
	Caller   string // account maintenance calls run under
	Log      *logrus.Entry
	Ctx      context.Context
}

// NewScheduler creates a new Scheduler. The notifier may be nil.
func NewScheduler(ctx context.Context, r *vault.Roller, tn *notifier.TelegramNotifier, caller string, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Roller:   r,
		Notifier: tn,
		Caller:   caller,
		Log:      log,
		Ctx:      ctx,
	}
}

// RegisterAll registers the roll, settle, sweep and status tasks.
func (s *Scheduler) RegisterAll(rollCron, settleCron, sweepCron, statusCron string) error {
	if _, err := s.Cron.AddFunc(rollCron, s.rollTask); err != nil {
		return fmt.Errorf("register roll task: %w", err)
	}
	if _, err := s.Cron.AddFunc(settleCron, s.settleTask); err != nil {
		return fmt.Errorf("register settle task: %w", err)
	}
	if _, err := s.Cron.AddFunc(sweepCron, s.sweepTask); err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if _, err := s.Cron.AddFunc(statusCron, s.statusTask); err != nil {
		return fmt.Errorf("register status task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Log.Info("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	s.Log.Info("scheduler stopped")
}

// RunRollNow executes the roll task immediately (manual trigger / RUN_ON_START).
func (s *Scheduler) RunRollNow() {
	s.rollTask()
}

func (s *Scheduler) rollTask() {
	s.Log.Info("running roll task")
	if err := s.Roller.Roll(s.Caller); err != nil {
		if errors.Is(err, vault.ErrWindowClosed) {
			s.Log.WithError(err).Info("roll window not open yet")
			return
		}
		s.Log.WithError(err).Error("roll failed")
		s.trySend(fmt.Sprintf("❌ Roll failed: %v", err))
		return
	}
	s.trySend(notifier.FormatRoll(s.Roller.Status()))
}

func (s *Scheduler) settleTask() {
	maturity, ok := s.Roller.ActiveMaturity()
	if !ok {
		return
	}
	s.Log.WithField("maturity", maturity).Debug("running settle check")
	if err := s.Roller.Settle(s.Caller); err != nil {
		if errors.Is(err, protocol.ErrNotMatured) {
			return
		}
		s.Log.WithError(err).Error("settle failed")
		s.trySend(fmt.Sprintf("❌ Settle failed: %v", err))
		return
	}
	s.trySend(notifier.FormatSettle(s.Roller.Status()))
}

func (s *Scheduler) sweepTask() {
	for _, m := range s.Roller.PastMaturities() {
		recovered, err := s.Roller.CashAssets(m)
		if err != nil {
			if errors.Is(err, protocol.ErrNotSettled) {
				continue
			}
			s.Log.WithError(err).WithField("maturity", m).Error("cash assets failed")
			continue
		}
		if recovered.Sign() > 0 {
			s.trySend(notifier.FormatSweep(m, recovered))
		}
	}
}

func (s *Scheduler) statusTask() {
	s.trySend(notifier.FormatStatus(s.Roller.Status()))
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		return notifier.FormatStatus(s.Roller.Status())
	case "/roll":
		s.rollTask()
		return ""
	case "/settle":
		s.settleTask()
		return ""
	case "/sweep":
		s.sweepTask()
		return "sweep complete"
	default:
		return "Commands:\n• /status\n• /roll\n• /settle\n• /sweep"
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil || text == "" {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.Log.WithError(err).Error("send notification")
	}
}
