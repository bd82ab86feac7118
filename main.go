package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"voxstream/internal/api"
	"voxstream/internal/config"
	"voxstream/internal/logging"
	"voxstream/internal/service"
	"voxstream/internal/usage"
	"voxstream/models"
)

const drainTimeout = 5 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logrus.WithError(err).Fatal("failed to load config")
	}

	closer, err := logging.Setup(logrus.StandardLogger(), cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}
	defer closer.Close()

	logrus.WithFields(logrus.Fields{
		"provider": cfg.Session.Provider,
		"vad_mode": cfg.Session.VADMode,
		"port":     cfg.Server.Port,
	}).Info("voxstream starting")

	metrics := usage.NewMetrics(prometheus.DefaultRegisterer)
	recorder := usage.NewRecorder(metrics)

	var modelMgr *models.Manager
	if cfg.VAD.ModelsDir != "" {
		modelMgr, err = models.NewManager(cfg.VAD.ModelsDir)
		if err != nil {
			logrus.WithError(err).Warn("model manager disabled")
			modelMgr = nil
		}
	}

	recSvc := service.NewRecordingService(service.RecordingOptions{
		VAD:             cfg.VAD,
		RecordingDir:    cfg.Recording.Dir,
		RecordingFormat: cfg.Recording.Format,
		Usage:           recorder,
		Models:          modelMgr,
		OpenSource:      service.OpenCapture,
	})

	server := api.NewServer(cfg, recSvc, modelMgr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logrus.WithError(err).Error("server stopped")
	}

	logrus.Info("shutting down")
	if err := recSvc.Stop(); err != nil && !errors.Is(err, service.ErrNoSession) {
		logrus.WithError(err).Warn("failed to stop session")
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := recSvc.Wait(waitCtx); err != nil {
		logrus.WithError(err).Warn("session did not finish in time")
	}
}
