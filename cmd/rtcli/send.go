package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sonirico/realtime"
	"github.com/spf13/cobra"
)

var sendWait time.Duration

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "how long to wait for the envelope to leave the queue")
}

var sendCmd = &cobra.Command{
	Use:   "send <type> [json-data]",
	Short: "Send a single envelope",
	Long: "Connect, send one envelope and disconnect once it has been written.\n" +
		"Example: rtcli send task_update '{\"taskId\":\"42\",\"status\":\"done\"}'",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseData(args[1:])
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.manager.Connect(cmd.Context(), s.identity); err != nil {
			return err
		}
		if err := s.manager.Send(args[0], data); err != nil {
			return err
		}

		sent := waitFor(sendWait, func() bool {
			st := s.manager.Status()
			return st.State == realtime.StateFailed || (st.Connected && st.QueuedMessages == 0)
		})
		st := s.manager.Status()
		if !sent || st.QueuedMessages > 0 {
			return fmt.Errorf("envelope still queued after %s (state %s)", sendWait, st.State)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[0])
		return nil
	},
}

func parseData(args []string) (map[string]any, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(args[0]), &data); err != nil {
		return nil, fmt.Errorf("data must be a JSON object: %w", err)
	}
	return data, nil
}
