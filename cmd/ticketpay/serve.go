package main

import (
	"github.com/smallbiznis/ticketpay/internal/migration"
	"github.com/smallbiznis/ticketpay/internal/notification"
	"github.com/smallbiznis/ticketpay/internal/scheduler"
	"github.com/smallbiznis/ticketpay/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var (
		withScheduler bool
		skipMigrate   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the notification dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				infrastructure(),
				domain(),
				server.Module,
				notification.RunDispatcher,
			}
			if !skipMigrate {
				opts = append(opts, migration.Module)
			}
			if withScheduler {
				opts = append(opts, scheduler.Module, scheduler.Run)
			}

			fx.New(opts...).Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "run housekeeping jobs in this process")
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations on start")

	return cmd
}
