package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-product-verifier/internal/config"
	"go-product-verifier/internal/container"
	"go-product-verifier/internal/logger"
)

// rootCmd is the main Cobra command for the product verifier.
var rootCmd = &cobra.Command{
	Use:   "product-verifier",
	Short: "Verify product authenticity codes from QR scans or manual entry",
	Long: `Product Verifier resolves the verification code printed on a product
against the verification service. Codes arrive from a QR code in an uploaded
image, from a live snapshot camera, or typed by hand.

Examples:
  product-verifier serve
  product-verifier scan ./label.jpg
  product-verifier verify KC2024001
  product-verifier camera --facing environment --timeout 30s`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, scanCmd, verifyCmd, cameraCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newContainer loads configuration from the environment and wires dependencies
func newContainer() (*container.Container, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c, err := container.NewContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	return c, nil
}

// quietLogs keeps stdout for command results
func quietLogs() {
	logger.SetOutput(os.Stderr)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
