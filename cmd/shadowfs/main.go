// Command shadowfs mounts, nukes, or reports statistics for a shadowfs
// mount point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/objectfs/shadowfs/internal/adapter"
	"github.com/objectfs/shadowfs/internal/config"
	"github.com/objectfs/shadowfs/internal/metadata"
)

var configFile string

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", configFile, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, nil
}

// confirmPrompt asks the operator a yes/no question on the controlling
// terminal, defaulting to "no" on anything but an explicit "y"/"yes".
func confirmPrompt(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}

var rootCmd = &cobra.Command{
	Use:   "shadowfs",
	Short: "shadowfs is a userspace filesystem backed by a SQL metadata index and pluggable object storage",
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the filesystem and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := adapter.New(cfg, confirmPrompt)
		if err != nil {
			return err
		}

		ctx := context.Background()
		if err := a.Start(ctx); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		return a.Stop(ctx)
	},
}

var nukeCmd = &cobra.Command{
	Use:   "nuke",
	Short: "Erase every file and all storage content, without checking persisted settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force && !confirmPrompt(fmt.Sprintf("permanently erase everything under %s?", cfg.MountPoint)) {
			fmt.Fprintln(os.Stderr, "aborted")
			return nil
		}

		return adapter.Nuke(context.Background(), cfg)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print root directory and configuration summary without mounting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		idx, err := metadata.Open(cfg.DatabaseFile)
		if err != nil {
			return err
		}
		defer idx.Close()

		ctx := context.Background()
		root, err := idx.GetFile(ctx, metadata.RootID)
		if err != nil {
			return err
		}
		entries, err := idx.GetDirectoryEntries(ctx, metadata.RootID, 1<<30, 0)
		if err != nil {
			return err
		}

		fmt.Printf("mount_point: %s\n", cfg.MountPoint)
		fmt.Printf("database_file: %s\n", cfg.DatabaseFile)
		fmt.Printf("storage_backend: %s\n", cfg.Primary.StorageBackend)
		fmt.Printf("root_version: %d\n", root.Version)
		fmt.Printf("root_entries: %d\n", len(entries))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to shadowfs.yaml")
	nukeCmd.Flags().Bool("force", false, "skip the confirmation prompt")

	rootCmd.AddCommand(mountCmd, nukeCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}
