package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AlcorQi/kango/internal/server"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the central ingest server",
		Long: `Start the ingest server: accepts agent batches, runs local detection
when enabled, serves the query API, streams events to dashboards over SSE,
and dispatches alert mail.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", ":8087", "listen address")
	cmd.Flags().String("generate-cmd", "", "external analysis-report generator command")
	cmd.Flags().Bool("journal", false, "also drain the systemd journal each scan pass")
	viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	viper.BindPFlag("generate_cmd", cmd.Flags().Lookup("generate-cmd"))
	viper.BindPFlag("journal", cmd.Flags().Lookup("journal"))

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	app, err := server.NewApp(server.Options{
		DataDir:     dataDir(),
		ConfigPath:  domainConfigPath(),
		PatternPath: patternPath(),
		GenCmd:      viper.GetString("generate_cmd"),
		Journal:     viper.GetBool("journal"),
		Log:         log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, viper.GetString("listen")); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
