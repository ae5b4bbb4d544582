package main

import (
	"github.com/smallbiznis/ticketpay/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run housekeeping jobs: attempt expiry, crypto polling, session reaping, outbox dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				infrastructure(),
				domain(),

				// No server module!
				scheduler.Module,
				scheduler.Run,
			).Run()
			return nil
		},
	}
}
