package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/config"
	"YieldRoller/internal/logging"
	"YieldRoller/internal/notifier"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/recorder"
	"YieldRoller/internal/scheduler"
	"YieldRoller/internal/solver"
	"YieldRoller/internal/token"
	"YieldRoller/internal/vault"
)

// account names the daemon's actors hold balances under
const (
	rollerAccount    = "roller:vault"
	ammAccount       = "amm:vault"
	splitterAccount  = "splitter:custody"
	adapterAccount   = "adapter:reserve"
	peripheryAccount = "periphery:desk"
)

func main() {
	_ = godotenv.Load()
	log := logging.Init()
	log.Info("YieldRoller starting")

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("config validation")
	}

	// Reserve asset ledger and simulation balances: the operator funds the
	// seeds and top-ups, the adapter posts sponsor stakes, the periphery
	// fronts the principal purchase inside yield sales.
	asset := token.New("Staked Reserve", "stRSV")
	operator := cfg.Roller.Operator
	opsFunds := decimal.NewFromFloat(cfg.Roller.OpsFunds)
	stake := decimal.NewFromFloat(cfg.Adapter.Stake)
	mustMint(log, asset, operator, opsFunds)
	mustMint(log, asset, adapterAccount, stake.Mul(decimal.NewFromInt(100)))
	mustMint(log, asset, peripheryAccount, opsFunds)

	adapter := protocol.NewAdapter(
		adapterAccount,
		decimal.NewFromFloat(cfg.Adapter.InitialScale),
		decimal.NewFromFloat(cfg.Adapter.AnnualYield),
		decimal.NewFromFloat(cfg.Adapter.IssuanceFee),
		stake,
		nil,
	)
	splitter := protocol.NewSplitProtocol(
		splitterAccount, asset, adapter,
		time.Duration(cfg.Adapter.SponsorWindowHours*float64(time.Hour)),
		nil,
	)
	ammVault := amm.NewVault(ammAccount)
	factory := amm.NewFactory(ammVault, solver.PoolParams{
		TimeStretchYears: decimal.NewFromFloat(cfg.Pool.TimeStretchYears),
		FeeIn:            decimal.NewFromFloat(cfg.Pool.FeeIn),
		FeeOut:           decimal.NewFromFloat(cfg.Pool.FeeOut),
	}, nil)
	minSwap := decimal.NewFromFloat(cfg.Roller.MinSwap)
	periphery := protocol.NewPeriphery(peripheryAccount, splitter, factory, ammVault, asset, minSwap)

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.WithError(err).Warn("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	roller := vault.New(vault.Deps{
		Log:       logging.Component("vault"),
		Account:   rollerAccount,
		Operator:  operator,
		Asset:     asset,
		Splitter:  splitter,
		Adapter:   adapter,
		Periphery: periphery,
		Factory:   factory,
		AMM:       ammVault,
		Recorder:  rec,
	}, vault.Params{
		MaxRate:        decimal.NewFromFloat(cfg.Roller.MaxRate),
		FallbackRate:   decimal.NewFromFloat(cfg.Roller.FallbackRate),
		TargetDuration: cfg.Roller.TargetDurationMonths,
		RollDistance:   time.Duration(cfg.Roller.RollDistanceHours * float64(time.Hour)),
		MinSeed:        decimal.NewFromFloat(cfg.Roller.MinSeed),
		OracleWindow:   time.Duration(cfg.Roller.OracleWindowMinutes * float64(time.Minute)),
	})

	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logging.Component("notifier"))
	} else {
		log.Info("telegram not configured, notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(ctx, roller, tn, operator, logging.Component("scheduler"))
	if err := sched.RegisterAll(cfg.Schedule.RollCron, cfg.Schedule.SettleCron, cfg.Schedule.SweepCron, cfg.Schedule.StatusCron); err != nil {
		log.WithError(err).Fatal("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, rolling now")
		go sched.RunRollNow()
	}

	log.Info("YieldRoller is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping")
	cancel()
	log.Info("YieldRoller stopped")
}

func mustMint(log *logrus.Logger, t *token.Token, account string, amount decimal.Decimal) {
	if err := t.Mint(account, amount); err != nil {
		log.WithError(err).Fatal("mint simulation balance")
	}
}
