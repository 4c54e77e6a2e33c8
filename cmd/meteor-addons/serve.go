package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/meteor-addons/addon-updater/internal/app"
	"github.com/meteor-addons/addon-updater/internal/metrics"
	"github.com/meteor-addons/addon-updater/internal/modsdir"
	"github.com/meteor-addons/addon-updater/internal/server"
	"github.com/meteor-addons/addon-updater/pkg/addon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the updater in the background and expose its local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, log)
		},
	}
}

func serve(cmd *cobra.Command, log *logrus.Logger) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.DisableMetrics {
		if err := metrics.Register(); err != nil {
			return err
		}
		defer metrics.Unregister()
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	log.Infof("starting meteor-addons %s (game version %s, mods in %s)", version, cfg.GameVersion, cfg.GetModsDir())
	stopper := &hostStopper{log: log, cancel: cancel}
	a, err := app.New(cfg, log, modsdir.New(log, cfg.GetModsDir()), stopper)
	if err != nil {
		return err
	}
	a.Detector.OnUpdatesFound(func(updates []*addon.UpdateInfo) {
		log.Infof("%d addon update(s) available", len(updates))
	})
	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: server.New(ctx, log, a),
	}
	go a.Queue.Run(ctx, queueTick)
	a.Start(ctx)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error(err)
			cancel()
		}
	}()

	<-ctx.Done()

	log.Println("stopping server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}
