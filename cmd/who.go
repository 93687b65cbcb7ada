package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/client"
	"github.com/fakeyudi/roomchat/internal/logging"
)

var (
	whoRoom string
	whoAll  bool
)

var whoCmd = &cobra.Command{
	Use:   "who",
	Short: "Show who is online in a room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rooms := []chat.Room{defaultRoom()}
		if whoRoom != "" {
			r, err := chat.ParseRoom(whoRoom)
			if err != nil {
				return err
			}
			rooms = []chat.Room{r}
		}
		if whoAll {
			rooms = chat.Rooms
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		log := oneShotLogger(cmd)

		out := cmd.OutOrStdout()
		for _, room := range rooms {
			entries, err := client.Online(ctx, GetConfig().APIURL, nil, room, logging.Component(log, "who"))
			if err != nil {
				return fmt.Errorf("fetching online users: %w", err)
			}
			fmt.Fprintf(out, "#%s (%d online)\n", room, len(entries))
			for _, e := range entries {
				fmt.Fprintf(out, "  %s\n", e.Username)
			}
		}
		return nil
	},
}

func init() {
	whoCmd.Flags().StringVar(&whoRoom, "room", "", "room to list (default from profile or config)")
	whoCmd.Flags().BoolVar(&whoAll, "all", false, "list every room")
	rootCmd.AddCommand(whoCmd)
}
