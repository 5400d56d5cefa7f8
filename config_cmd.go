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
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# address the proxy listens on
listen: ":8080"
# origin serving the player pages, manifests and packs
upstream: "http://localhost:5173"
# current cache generation; every other generation is purged on start.
# Change it when a new player release ships.
generation: "lofiland-v1"
# redeploy without a restart when generation changes in this file
watch: false
# debug logging
debug: false

store:
  # disk, sqlite or memory
  driver: "disk"
  # defaults to the user cache directory
  # dir: "~/.cache/lofiproxy"
  # zstd level for the disk store, 0 disables compression
  compression: 3

limits:
  # audio loops kept per generation, oldest are evicted first
  audio_entries: 80
  # responses larger than this are served but never cached (25 MiB)
  max_response_bytes: 26214400
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the lofiproxy config file",
	Long:    paragraph(fmt.Sprintf("\n%s the lofiproxy config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("lofiproxy config\nlofiproxy config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("lofiproxy", configFile)
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

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(effectiveConfig())
		if err != nil {
			return fmt.Errorf("unable to render config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

// settings mirrors the config file layout.
type settings struct {
	Listen     string        `yaml:"listen"`
	Upstream   string        `yaml:"upstream"`
	Generation string        `yaml:"generation"`
	Watch      bool          `yaml:"watch"`
	Debug      bool          `yaml:"debug"`
	Store      storeSettings `yaml:"store"`
	Limits     limitSettings `yaml:"limits"`
}

type storeSettings struct {
	Driver      string `yaml:"driver"`
	Dir         string `yaml:"dir"`
	Compression int    `yaml:"compression"`
}

type limitSettings struct {
	AudioEntries     int   `yaml:"audio_entries"`
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// effectiveConfig returns the values validateOptions settled on.
func effectiveConfig() settings {
	return settings{
		Listen:     listen,
		Upstream:   upstream,
		Generation: generation,
		Watch:      watchConfig,
		Debug:      viper.GetBool("debug"),
		Store: storeSettings{
			Driver:      storeDriver,
			Dir:         storeDir,
			Compression: compression,
		},
		Limits: limitSettings{
			AudioEntries:     audioEntries,
			MaxResponseBytes: maxResponseBytes,
		},
	}
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
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
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
