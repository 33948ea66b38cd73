package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# write debug output to the log
debug: false

# directory for the narration cache (default: per-user data dir)
# data_dir: ""

provider:
  # base URL of the narration provider
  url: "https://api.narratekit.dev"
  # provider profile to request
  name: "standard"
  # api_key: "your-api-key-here"

# voice id used for generation
voice: "alloy"
# language code used for generation
language: "en"

audio:
  # PCM sample rate of provider audio
  sample_rate: 22050
  # channel count of provider audio
  channels: 1
  # playback volume (0.0 to 1.0)
  volume: 1.0

fetch:
  # segment downloads per second
  rate: 8.0
  burst: 4
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the narrate config file",
	Long:    "\nEdit the narrate config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "narrate config\nnarrate config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Narrate", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
