package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rollcall/internal/dashboard"
	"rollcall/internal/export"
	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

var sessionID string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the roster of an existing session to a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}
		ctx := cmd.Context()
		client := remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout)

		login, err := client.Login(ctx, username, password)
		if err != nil {
			return errors.New(dashboard.DisplayMessage(err))
		}
		records, err := client.ListAttendance(ctx, login.Token, sessionID)
		if err != nil {
			return errors.New(dashboard.DisplayMessage(err))
		}

		loc := localizer()
		now := time.Now()
		label := course
		if label == "" {
			label = export.DefaultCourse
		}
		meta := export.Meta{
			Course:      label,
			Presenter:   login.Teacher.DisplayName(),
			GeneratedAt: now,
			Localizer:   loc,
		}

		path := filepath.Join(exportDir, export.Filename(label, now))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := export.Write(f, meta, roster.Derive(records, loc)); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		logger.Info("roster exported", zap.String("session_id", sessionID), zap.Int("records", len(records)), zap.String("path", path))
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to export")
	_ = exportCmd.MarkFlagRequired("session")
}
