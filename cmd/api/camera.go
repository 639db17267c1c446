package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go-product-verifier/internal/capture"
	"go-product-verifier/internal/logger"
	"go-product-verifier/pkg/models"
)

var (
	deviceFlag        string
	facingFlag        string
	cameraTimeoutFlag time.Duration
	listDevicesFlag   bool
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Scan with a configured snapshot camera until a code is found",
	Args:  cobra.NoArgs,
	RunE:  runCamera,
}

func init() {
	cameraCmd.Flags().StringVar(&deviceFlag, "device", "", "Device ID to open (see --list)")
	cameraCmd.Flags().StringVar(&facingFlag, "facing", capture.FacingEnvironment, "Preferred facing: environment or user")
	cameraCmd.Flags().DurationVar(&cameraTimeoutFlag, "timeout", time.Minute, "Give up after this long without a code")
	cameraCmd.Flags().BoolVar(&listDevicesFlag, "list", false, "List configured cameras and exit")
}

func runCamera(cmd *cobra.Command, args []string) error {
	quietLogs()

	c, err := newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	if listDevicesFlag {
		devices, err := c.Camera().Devices(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(devices)
	}

	orchestrator := c.Scanner()
	pref := capture.Preference{DeviceID: deviceFlag, Facing: facingFlag}
	if _, err := orchestrator.StartCamera(cmd.Context(), c.Camera(), c.Sink(), pref); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), cameraTimeoutFlag)
	defer cancel()

	select {
	case <-done:
	case <-ctx.Done():
		orchestrator.Stop()
		<-done
		logger.WithField("timeout", cameraTimeoutFlag).Warn("No code found before timeout")
	}

	session := orchestrator.Session()
	if session.Status != models.ScanStatusResolved {
		if session.Error != "" {
			return fmt.Errorf("%s", session.Error)
		}
		return fmt.Errorf("scan ended without a code (status %s)", session.Status)
	}

	c.Flow().Wait()
	return printJSON(models.CameraStatusResponse{
		Session:      session,
		Verification: c.Flow().State(),
	})
}
