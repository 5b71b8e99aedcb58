package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/prasenjit/go-apibot/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file and data directory",
	Long: `Creates config.yaml with default settings and the data directory used
by file and SQLite draft storage.

If config.yaml already exists, it will not be overwritten unless --force is used.`,
	RunE: runInit,
}

var (
	initForce bool
	initPath  string
)

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing config file")
	initCmd.Flags().StringVarP(&initPath, "path", "p", ".", "Path where to initialize")
}

func runInit(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(initPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	out := cmd.OutOrStdout()
	configFile := filepath.Join(absPath, "config.yaml")
	dataDir := filepath.Join(absPath, "data")

	if _, err := os.Stat(configFile); err == nil && !initForce {
		return fmt.Errorf("config.yaml already exists. Use --force to overwrite")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
	}
	fmt.Fprintf(out, "Created directory: %s\n", dataDir)

	data, err := config.Default().Marshal()
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	header := `# go-apibot configuration
# backend.token may also come from GOAPIBOT_BACKEND_TOKEN or --token.

`
	// the file may hold a token, keep it private
	if err := os.WriteFile(configFile, []byte(header+string(data)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(out, "Created config file: %s\n", configFile)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Initialization complete! Start the console with:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  cd %s\n", absPath)
	fmt.Fprintln(out, "  go-apibot serve")
	fmt.Fprintln(out)

	return nil
}
