package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// Profile is the CLI state stored in ~/.rtcli/config.toml.
type Profile struct {
	Default ProfileDefault `toml:"default"`
}

// ProfileDefault holds the connection settings used when no flag overrides them.
type ProfileDefault struct {
	URL        string   `toml:"url"`
	Token      string   `toml:"token"`
	Channels   []string `toml:"channels"`
	ConfigFile string   `toml:"config_file"`
	LogLevel   string   `toml:"log_level"`
}

// profileDir returns ~/.rtcli, creating it if needed. RTCLI_HOME overrides the location.
func profileDir() (string, error) {
	if dir := os.Getenv("RTCLI_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("cannot create config directory: %w", err)
		}
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".rtcli")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func profilePath() (string, error) {
	dir, err := profileDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadProfile reads the profile. A missing file yields a zero-value Profile.
func loadProfile() (*Profile, error) {
	path, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &p, nil
}

func saveProfile(p *Profile) error {
	path, err := profilePath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setProfileValue sets a profile field using dot notation (e.g. "default.url").
func setProfileValue(p *Profile, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.url)")
	}
	section, field := parts[0], parts[1]

	if section != "default" {
		return fmt.Errorf("unknown config section %q (valid: default)", section)
	}

	switch field {
	case "url":
		p.Default.URL = value
	case "token":
		p.Default.Token = value
	case "channels":
		p.Default.Channels = splitChannels(value)
	case "config_file":
		p.Default.ConfigFile = value
	case "log_level":
		p.Default.LogLevel = value
	default:
		return fmt.Errorf("unknown field %q in section [default]", field)
	}
	return nil
}

func splitChannels(value string) []string {
	var out []string
	for _, ch := range strings.Split(value, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

var rootCmd = &cobra.Command{
	Use:   "rtcli",
	Short: "Realtime connection CLI",
	Long: "Command-line client for the realtime WebSocket endpoint.\n" +
		"Listen to events, send envelopes and inspect the connection state.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
