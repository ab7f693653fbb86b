package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/np-widget/backend/internal/app"
	"github.com/np-widget/backend/internal/client"
)

var (
	serverURL       string
	clientToken     string
	sessionsJSON    bool
	sessionsOrdered bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the sessions a running server holds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, _ := clientSettings()
		c := client.NewHTTPClient(serverURL, token)
		records, raw, err := c.Sessions(cmd.Context(), sessionsOrdered)
		if err != nil {
			return err
		}
		if sessionsJSON {
			_, err := cmd.OutOrStdout().Write(raw)
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), app.RenderSessions(records, time.Now()))
		return nil
	},
}

func init() {
	addClientFlags(sessionsCmd)
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print the raw JSON response")
	sessionsCmd.Flags().BoolVar(&sessionsOrdered, "ordered", false, "list in display priority order")
	rootCmd.AddCommand(sessionsCmd)
}

func addClientFlags(c *cobra.Command) {
	c.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "server base URL")
	c.Flags().StringVar(&clientToken, "token", "", "auth token (default from server.auth_token)")
}

// clientSettings reads the local configuration, if any, so a client run on
// the server's machine needs no flags. --token wins over server.auth_token.
func clientSettings() (token string, priorities []string) {
	if _, err := loadConfig(); err != nil {
		slog.Debug("no usable local config", slog.String("error", err.Error()))
	}
	token = clientToken
	if token == "" {
		token = viper.GetString("server.auth_token")
	}
	return token, viper.GetStringSlice("bridge.source_priority")
}
