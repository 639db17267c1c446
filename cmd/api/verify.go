package main

import (
	"context"

	"github.com/spf13/cobra"

	"go-product-verifier/pkg/models"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Verify a product code typed by hand",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	quietLogs()

	c, err := newContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	code, _, err := c.Flow().SubmitManual(models.ManualEntryState{Code: args[0]})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), c.Config().RequestTimeout)
	defer cancel()

	return printJSON(c.Flow().Resolve(ctx, code))
}
