package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Mystic-Gaurab/text-detection-pt/acquire"
	"github.com/Mystic-Gaurab/text-detection-pt/config"
	"github.com/Mystic-Gaurab/text-detection-pt/detections"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "textdetect",
		Short: "Text detection web tool backed by a pretrained ONNX model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run()
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.String("addr", "", "listen address (host:port)")
	flags.String("model", "", "path to the model weights file")
	flags.String("ort-lib", "", "path to the ONNX Runtime shared library")
	viper.BindPFlag("addr", flags.Lookup("addr"))
	viper.BindPFlag("model_path", flags.Lookup("model"))
	viper.BindPFlag("ort_lib_path", flags.Lookup("ort-lib"))

	return cmd
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer logger.Sync()

	loader := detections.NewLoader(cfg.ModelPath, cfg.OrtLibPath, logger)
	defer loader.Close()

	if st := loader.Status(); st.Error != "" {
		logger.Warn("model unavailable at startup", zap.String("path", st.Path), zap.String("reason", st.Error))
	} else {
		logger.Info("model weights found", zap.String("path", st.Path))
	}

	acquirer := acquire.New(cfg.FetchTimeout, logger)
	server := NewServer(loader, loader, acquirer, logger, cfg.MaxUploadBytes)

	srv := &http.Server{
		Handler:      server.Routes(),
		Addr:         cfg.Addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
