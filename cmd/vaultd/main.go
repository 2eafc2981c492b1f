package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"elastivault/config"
	"elastivault/gateway"
	"elastivault/native/elastic"
	"elastivault/native/vault"
	"elastivault/observability/logging"
	"elastivault/state"
	"elastivault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "vault.toml", "path to vaultd config")
	flag.Parse()

	gwCfg := gateway.LoadConfigFromEnv()
	if err := gwCfg.Validate(); err != nil {
		log.Fatalf("gateway config: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "vaultd.log"),
		MaxSize:    64,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	defer rotator.Close()
	logger := logging.Setup("vaultd", gwCfg.Environment, rotator)
	logger.Info("configuration loaded", "config", gwCfg.Sanitized())

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault.db"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db)
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}

	server := gateway.NewServer(engine, gwCfg, logger)
	httpServer := &http.Server{
		Addr:              gwCfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go server.RunAccrualLoop(ctx, time.Minute)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening", "address", gwCfg.Listen)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}
}

// eventLogger mirrors vault events into the structured log.
type eventLogger struct {
	log *slog.Logger
}

func (l *eventLogger) AppendEvent(event *vault.Event) {
	if event == nil {
		return
	}
	attrs := make([]any, 0, 2+2*len(event.Attributes))
	attrs = append(attrs, "type", event.Type)
	for key, value := range event.Attributes {
		attrs = append(attrs, key, value)
	}
	l.log.Info("vault event", attrs...)
}

// buildEngine wires the vault engine from persisted state and the genesis
// parameters in cfg. Parameter setters run as the owner.
func buildEngine(cfg *config.Config, db storage.Database) (*vault.Engine, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	treasury, err := state.NewTreasury(db)
	if err != nil {
		return nil, err
	}

	engine := vault.NewEngine(owner, cfg.TokenSymbol)
	engine.SetState(manager)
	engine.SetTreasury(treasury)
	engine.SetTokenMover(state.NewTokenVault(db))
	engine.SetEventSink(&eventLogger{log: slog.Default()})

	snapshot, err := manager.GetLedger()
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		engine.SetLedger(elastic.RestoreLedger(snapshot))
	}

	tierSize, err := cfg.TierSize()
	if err != nil {
		return nil, err
	}
	curve := vault.RateCurve{
		BaseRateBps: cfg.BaseRateBps,
		RateStepBps: cfg.RateStepBps,
		MinRateBps:  cfg.MinRateBps,
		TierSize:    tierSize,
	}
	if err := engine.SetRateCurve(owner, curve); err != nil {
		return nil, err
	}

	period, err := cfg.AccrualPeriodDuration()
	if err != nil {
		return nil, err
	}
	accrual := vault.AccrualConfig{Period: period, DailyCapBps: cfg.DailyCapBps}
	if err := engine.SetAccrualConfig(owner, accrual); err != nil {
		return nil, err
	}

	if recipient, ok, err := config.OptionalAddress(cfg.FeeRecipient); err != nil {
		return nil, err
	} else if ok {
		fee := vault.FeeConfig{Recipient: recipient, FeeBps: cfg.FeeBps}
		if err := engine.SetFeeConfig(owner, fee); err != nil {
			return nil, err
		}
	}

	if governance, ok, err := config.OptionalAddress(cfg.Governance); err != nil {
		return nil, err
	} else if ok {
		if err := engine.SetGovernance(owner, governance); err != nil {
			return nil, err
		}
	}
	if bridge, ok, err := config.OptionalAddress(cfg.Bridge); err != nil {
		return nil, err
	} else if ok {
		if err := engine.SetBridge(owner, bridge); err != nil {
			return nil, err
		}
	}

	if minDeposit, err := config.OptionalWei(cfg.MinDepositWei); err != nil {
		return nil, err
	} else if minDeposit != nil {
		if err := engine.SetMinDeposit(owner, minDeposit); err != nil {
			return nil, err
		}
	}
	perUser, err := config.OptionalWei(cfg.PerUserCapWei)
	if err != nil {
		return nil, err
	}
	global, err := config.OptionalWei(cfg.GlobalTvlCapWei)
	if err != nil {
		return nil, err
	}
	if perUser != nil || global != nil {
		if err := engine.SetDepositCaps(owner, perUser, global); err != nil {
			return nil, err
		}
	}

	return engine, nil
}
