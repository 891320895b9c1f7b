// Command releasehttp runs the ZLS release coordination service over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/zigtools/releaseworker/blobstore"
	"github.com/zigtools/releaseworker/datastore"
	"github.com/zigtools/releaseworker/datastore/postgres"
	"github.com/zigtools/releaseworker/datastore/sqlite"
	"github.com/zigtools/releaseworker/librelease"
)

// Config is parsed from flags and environment variables by goconfig.
type Config struct {
	HTTPListenAddr string  `cfgDefault:"0.0.0.0:8081" cfg:"HTTP_LISTEN_ADDR"`
	SQLitePath     string  `cfgDefault:"releases.sqlite" cfg:"SQLITE_PATH" cfgHelper:"Path of the sqlite release database."`
	ConnString     string  `cfg:"CONNECTION_STRING" cfgHelper:"PostgreSQL connection string. When set, postgres is used instead of sqlite."`
	BlobDir        string  `cfgDefault:"blobs" cfg:"BLOB_DIR" cfgHelper:"Directory artifacts and index.json are published into."`
	PublicURLBase  string  `cfg:"PUBLIC_URL_BASE" cfgHelper:"URL prefix clients download artifacts from, no trailing slash."`
	APIToken       string  `cfg:"API_TOKEN" cfgHelper:"Token CI uses to authorize publishes."`
	ForceMinisign  bool    `cfg:"FORCE_MINISIGN" cfgHelper:"Reject publishes missing minisign signatures."`
	PublishRate    float64 `cfg:"PUBLISH_RATE" cfgHelper:"Publishes per second allowed; 0 disables the limit."`
	LogLevel       string  `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warn, error"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conf Config
	if err := goconfig.Parse(&conf); err != nil {
		slog.Error("failed to parse config", "reason", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(conf.LogLevel),
	})))

	if err := run(ctx, &conf); err != nil {
		slog.Error("exiting", "reason", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *Config) error {
	var store datastore.ReleaseStore
	if conf.ConnString != "" {
		s, err := postgres.Open(ctx, conf.ConnString)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	} else {
		s, err := sqlite.Open(ctx, conf.SQLitePath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	blobs, err := blobstore.NewFS(conf.BlobDir)
	if err != nil {
		return err
	}

	srvc, err := librelease.New(ctx, &librelease.Opts{
		Store:         store,
		Blobs:         blobs,
		PublicURLBase: conf.PublicURLBase,
		APIToken:      conf.APIToken,
		ForceMinisign: conf.ForceMinisign,
		PublishRate:   rate.Limit(conf.PublishRate),
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/zls/", librelease.NewHandler(srvc))
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	done := make(chan error, 1)
	go func() {
		slog.Info("starting http server", "addr", conf.HTTPListenAddr)
		done <- srv.ListenAndServe()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return srvc.Close(shutdownCtx)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
