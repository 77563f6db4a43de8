package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AlcorQi/kango/internal/agent"
)

func newAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Tail local logs and report to an ingest server",
		Long: `Run the reporting agent: tails the configured log sources in-process,
classifies new lines, and POSTs event batches to the central server.
Offsets persist locally so restarts resume where the last pass stopped.`,
		RunE: runAgent,
	}

	cmd.Flags().String("server", "", "ingest server base URL (required)")
	cmd.Flags().String("token", "", "ingest token sent as X-Ingest-Token")
	cmd.Flags().Bool("journal", false, "also drain the systemd journal each scan pass")
	viper.BindPFlag("agent.server", cmd.Flags().Lookup("server"))
	viper.BindPFlag("agent.token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("agent.journal", cmd.Flags().Lookup("journal"))

	return cmd
}

func runAgent(cmd *cobra.Command, args []string) error {
	serverURL := viper.GetString("agent.server")
	if serverURL == "" {
		return fmt.Errorf("--server is required")
	}

	a, err := agent.New(agent.Options{
		ServerURL:   serverURL,
		Token:       viper.GetString("agent.token"),
		DataDir:     dataDir(),
		ConfigPath:  domainConfigPath(),
		PatternPath: patternPath(),
		Journal:     viper.GetBool("agent.journal"),
		Log:         newLogger(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}
