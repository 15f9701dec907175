package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"freshd/internal/config"
	"freshd/internal/server"
)

func main() {
	configPath := flag.String("config", "freshd.env", "path to the key=value configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// A real logger isn't built yet; a bad config file is fatal and
		// should never be silently swallowed into defaults.
		println("error loading config:", err.Error())
		os.Exit(1)
	}

	log := buildLogger(cfg)
	defer log.Sync()

	accept := make(chan *server.User, 16)
	dispatcher := server.NewDispatcher(cfg, log, accept)
	listener := server.NewListener(log, accept)

	stop := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutting down")
		close(stop)
	}()

	go dispatcher.Run(stop)

	if err := listener.Serve(cfg.Address, stop); err != nil {
		log.Fatal("listener stopped", zap.Error(err))
	}
}

func buildLogger(cfg config.Server) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{cfg.LogFile, "stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	log, err := zcfg.Build()
	if err != nil {
		log, _ = zap.NewProduction()
	}
	return log
}
