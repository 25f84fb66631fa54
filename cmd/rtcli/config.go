package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage rtcli configuration",
	Long:  "View or modify the rtcli profile stored in ~/.rtcli/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := profilePath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No profile found. Run 'rtcli config set default.url <url>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile value",
	Long: "Set a profile value using dot notation.\n" +
		"Example: rtcli config set default.url wss://api.example.com/ws\n" +
		"Channels are comma separated: rtcli config set default.channels assets,tasks",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		p, err := loadProfile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setProfileValue(p, key, value); err != nil {
			return err
		}

		if err := saveProfile(p); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "default.token" {
			value = "***"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
