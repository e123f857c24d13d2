package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eodbot/internal/config"
	"eodbot/internal/engine"
	"eodbot/internal/gateway"
	"eodbot/internal/retry"
	"eodbot/internal/scheduler"
	"eodbot/internal/store"
)

func main() {
	var (
		testBuy    int
		dev        bool
		cyclesPath string
	)
	flag.IntVar(&testBuy, "test-buy", 0, "buy N shares of the configured symbol once, then exit")
	flag.BoolVar(&dev, "dev", false, "human-readable console logging")
	flag.StringVar(&cyclesPath, "cycles-path", "cycles.ndjson", "path to the per-cycle audit log")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(dev)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	var gw *gateway.Sim
	err = retry.Do(ctx, logger, "gateway_connect", func(ctx context.Context) error {
		g, err := gateway.Dial(ctx, cfg.IBHost, cfg.IBPort, cfg.ClientID, cfg.Symbol, cfg.Location, logger)
		if err != nil {
			return err
		}
		gw = g
		return nil
	})
	if err != nil {
		logger.Info("shutdown before gateway became ready", zap.Error(err))
		return
	}

	eng := engine.New(gw, logger, engine.Config{
		Symbol: cfg.Symbol,
		Tag:    cfg.StrategyTag,
	})

	if testBuy > 0 {
		if err := eng.BuyTest(ctx, decimal.NewFromInt(int64(testBuy))); err != nil {
			logger.Error("test buy failed", zap.Int("size", testBuy), zap.Error(err))
			os.Exit(1)
		}
		logger.Info("test buy complete", zap.Int("size", testBuy), zap.String("symbol", cfg.Symbol))
		return
	}

	st, err := store.Open(ctx, store.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
	}, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("shutdown before database became ready")
			return
		}
		logger.Error("database unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	cycles, err := scheduler.NewCycleLog(cyclesPath)
	if err != nil {
		logger.Error("open cycle log failed", zap.String("path", cyclesPath), zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = cycles.Close() }()

	loop := scheduler.New(gw, eng, st, cycles, logger, scheduler.Config{
		Symbol:   cfg.Symbol,
		Period:   cfg.MAPeriod,
		Hour:     cfg.ExitCheckHour,
		Minute:   cfg.ExitCheckMinute,
		Location: cfg.Location,
	})

	logger.Info("starting scheduler",
		zap.String("symbol", cfg.Symbol),
		zap.Int("ma_period", cfg.MAPeriod),
		zap.Int("exit_check_hour", cfg.ExitCheckHour),
		zap.Int("exit_check_minute", cfg.ExitCheckMinute),
	)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	if dev {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}
