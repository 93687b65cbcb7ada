package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/roomchat/internal/chat"
	"github.com/fakeyudi/roomchat/internal/client"
	"github.com/fakeyudi/roomchat/internal/logging"
	"github.com/fakeyudi/roomchat/internal/transcript"
)

var (
	historyJSON   bool
	historyFormat string
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history <room>",
	Short: "Print or export a room's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := chat.ParseRoom(args[0])
		if err != nil {
			return err
		}
		format := historyFormat
		if historyJSON {
			format = string(transcript.FormatJSON)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		msgs, err := client.RoomHistory(ctx, GetConfig().APIURL, nil, room, logging.Component(oneShotLogger(cmd), "history"))
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}

		if format == "" && historyOutput == "" {
			printHistory(cmd.OutOrStdout(), room, msgs)
			return nil
		}

		f := transcript.FormatOf(historyOutput)
		if format != "" {
			if f, err = transcript.ParseFormat(format); err != nil {
				return err
			}
		}
		data, err := transcript.RendererFor(f).Render(transcript.New(room, msgs, time.Now()))
		if err != nil {
			return err
		}

		if historyOutput == "" {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(historyOutput, data, 0o644); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %d messages from #%s written to %s\n", len(msgs), room, historyOutput)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print a transcript saved with 'history --output'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}
		t, err := transcript.ParserFor(transcript.FormatOf(path)).Parse(data)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), t.Room, t.Messages)
		fmt.Fprintf(cmd.OutOrStdout(), "  (exported %s)\n", t.ExportedAt.Local().Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

// printHistory writes a plain-text transcript.
func printHistory(w io.Writer, room chat.Room, msgs []chat.Message) {
	fmt.Fprintf(w, "## #%s\n", room)
	if len(msgs) == 0 {
		fmt.Fprintln(w, "  (no messages)")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "  [%s] %s: %s\n", time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05"), m.Sender, m.Text)
	}
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "shorthand for --format json")
	historyCmd.Flags().StringVar(&historyFormat, "format", "", "transcript format: json or markdown")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "write the transcript to a file")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
}
