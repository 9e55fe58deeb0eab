package cli

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/lodestone-kb/lodestone/internal/adapters/driven/config/file"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Show the effective configuration or write a default config file.`,
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  `Writes the default configuration to ~/.lodestone/config.toml unless a file already exists.`,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	cmd.Print(string(data))

	if err := cfg.Validate(); err != nil {
		cmd.PrintErrf("\nconfiguration problems:\n%v\n", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, err := file.DefaultPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := file.Save(file.Default(), path); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}
