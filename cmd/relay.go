package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/roomchat/internal/logging"
	"github.com/fakeyudi/roomchat/internal/relay"
)

var (
	relayAddr    string
	relayBacklog int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a local development relay server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := relayAddr
		if addr == "" {
			addr = GetConfig().RelayAddr
		}
		lvl, _ := logging.ParseLevel(GetConfig().LogLevel)
		log := logging.Component(logging.Console(cmd.ErrOrStderr(), lvl), "relay")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return relay.New(relayBacklog, log).ListenAndServe(ctx, addr)
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayAddr, "addr", "", "listen address (default relay_addr from config)")
	relayCmd.Flags().IntVar(&relayBacklog, "backlog", relay.DefaultBacklog, "messages kept per room")
	rootCmd.AddCommand(relayCmd)
}
