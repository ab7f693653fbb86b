package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/np-widget/backend/internal/app"
	"github.com/np-widget/backend/internal/client"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running server's sessions live",
	Long: `Connect to the server's WebSocket feed and keep a live table of its
sessions, ordered by bridge.source_priority. Reconnects automatically.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		wsURL, err := client.WSURL(serverURL)
		if err != nil {
			return err
		}
		token, priorities := clientSettings()
		m := app.New(client.NewWSClient(wsURL, token), priorities)
		_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func init() {
	addClientFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}
