package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rollcall/internal/dashboard"
	"rollcall/internal/remote"
	"rollcall/internal/tui"
)

var (
	username  string
	password  string
	course    string
	duration  string
	exportDir string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start a session and follow the roster in the terminal",
	Example: `  ROLLCALL_PASSWORD=secret rollcall watch --username grace --duration 10 --course "Ağ Yönetimi"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.RemoteTimeout)
		defer cancel()

		// the terminal belongs to the view; keep logs off it
		ctl := dashboard.NewController(remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout), dashboard.Options{
			PollInterval: cfg.PollInterval,
			TickInterval: cfg.TickInterval,
			Localizer:    localizer(),
			Logger:       zap.NewNop(),
		})
		defer ctl.Close()

		if err := ctl.Login(ctx, username, password); err != nil {
			return errors.New(dashboard.DisplayMessage(err))
		}
		if err := ctl.StartSession(ctx, duration, course); err != nil {
			return errors.New(dashboard.DisplayMessage(err))
		}

		_, err := tea.NewProgram(tui.New(ctl, cfg.TickInterval, exportDir), tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{watchCmd, exportCmd} {
		c.Flags().StringVarP(&username, "username", "u", "", "Teacher username")
		c.Flags().StringVar(&password, "password", "", "Teacher password (or set ROLLCALL_PASSWORD)")
		c.Flags().StringVar(&course, "course", "", "Course label used in the export")
		c.Flags().StringVar(&exportDir, "out", ".", "Directory for exported spreadsheets")
		_ = c.MarkFlagRequired("username")
	}
	watchCmd.Flags().StringVarP(&duration, "duration", "d", "10", "Session length in minutes")
}

func requireCredentials() error {
	if password == "" {
		password = os.Getenv("ROLLCALL_PASSWORD")
	}
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	return nil
}
