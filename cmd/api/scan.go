package main

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go-product-verifier/internal/capture"
	"go-product-verifier/internal/decoder"
	"go-product-verifier/internal/flow"
	"go-product-verifier/internal/logger"
	"go-product-verifier/internal/scanner"
	"go-product-verifier/pkg/models"
)

var (
	noVerifyFlag bool
	labelFlag    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Decode the QR code in an image file and verify it",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&noVerifyFlag, "no-verify", false, "Print the decoded code without calling the verification service")
	scanCmd.Flags().BoolVar(&labelFlag, "label", false, "Read the printed code with OCR instead of decoding a QR code")
}

type scanOutput struct {
	models.ScanResponse
	Verification *models.VerificationState `json:"verification,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	quietLogs()

	c, err := newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := c.Config()
	contentType := mime.TypeByExtension(filepath.Ext(path))
	upload, err := capture.ReadUpload(f, filepath.Base(path), contentType, capture.OriginPicker, cfg.MaxRequestBodySize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	var code string
	if labelFlag {
		if err := capture.ValidateUpload(upload); err != nil {
			return err
		}
		code, _, err = c.Labels().ReadCode(ctx, upload.Body)
	} else {
		code, err = scanImage(ctx, c.Decoder(), upload, cfg.ScanPollRate)
	}
	if err != nil {
		return err
	}

	out := scanOutput{ScanResponse: models.ScanResponse{Code: code, Redirect: flow.RedirectFor(code)}}
	if !noVerifyFlag {
		state := c.Flow().Resolve(ctx, code)
		out.Verification = &state
	}
	return printJSON(out)
}

func scanImage(ctx context.Context, dec decoder.Decoder, upload capture.Upload, pollRate int) (string, error) {
	img, err := capture.DecodeUpload(upload)
	if err != nil {
		return "", err
	}

	orchestrator := scanner.New(dec, nil, nil, logger.Logger, scanner.Options{PollRate: pollRate})
	defer orchestrator.Close()
	return orchestrator.ScanUpload(ctx, capture.NewStillStream(img))
}
