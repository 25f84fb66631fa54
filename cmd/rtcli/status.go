package main

import (
	"time"

	"github.com/sonirico/realtime"
	"github.com/spf13/cobra"
)

var statusWait time.Duration

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusWait, "wait", 3*time.Second, "how long to wait for the connection to settle")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect once and print the connection snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.manager.Connect(cmd.Context(), s.identity); err != nil {
			return err
		}

		waitFor(statusWait, func() bool {
			st := s.manager.Status().State
			return st == realtime.StateConnected || st == realtime.StateFailed
		})

		return printJSON(cmd.OutOrStdout(), s.manager.Status())
	},
}
