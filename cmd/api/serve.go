package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-product-verifier/internal/logger"
)

var shutdownTimeoutFlag time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeoutFlag, "shutdown-timeout", 30*time.Second, "Grace period for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.Config()

	// Create HTTP server with configurable timeouts
	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      c.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"address":     cfg.ServerAddress(),
			"timeout":     cfg.RequestTimeout,
			"verify_api":  cfg.VerifyBaseURL,
			"cameras":     len(cfg.CameraDevices),
			"blob_source": cfg.BlobStorageEnabled(),
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.WithError(err).Error("Failed to start server")
		return err
	}

	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutFlag)
	defer cancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return err
	}

	logger.Info("Server exited")
	return nil
}
