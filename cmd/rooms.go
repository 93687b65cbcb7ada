package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/roomchat/internal/chat"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the available rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		def := GetConfig().Room()
		if p := GetProfile(); p != nil && p.DefaultRoom.Valid() {
			def = p.DefaultRoom
		}
		for _, r := range chat.Rooms {
			marker := " "
			if r == def {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s #%s\n", marker, r)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
