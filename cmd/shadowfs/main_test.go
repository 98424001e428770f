package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/objectfs/shadowfs/internal/config"
	"github.com/objectfs/shadowfs/internal/metadata"
)

func newTestCLIConfig(t *testing.T) *config.Configuration {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefault()
	cfg.DatabaseFile = filepath.Join(dir, "index.db")
	cfg.MountPoint = dir
	cfg.Primary.BlobStorage = filepath.Join(dir, "blobs")
	return cfg
}

func withConfigFile(t *testing.T, cfg *config.Configuration) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadowfs.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile error = %v", err)
	}
	prev := configFile
	configFile = path
	t.Cleanup(func() { configFile = prev })
}

func TestLoadConfigReadsFile(t *testing.T) {
	cfg := newTestCLIConfig(t)
	withConfigFile(t, cfg)

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig error = %v", err)
	}
	if loaded.DatabaseFile != cfg.DatabaseFile {
		t.Fatalf("loadConfig().DatabaseFile = %q, want %q", loaded.DatabaseFile, cfg.DatabaseFile)
	}
}

func TestConfirmPromptParsesYesAndNo(t *testing.T) {
	withStdin := func(t *testing.T, input string) {
		t.Helper()
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("os.Pipe error = %v", err)
		}
		if _, err := w.WriteString(input); err != nil {
			t.Fatalf("WriteString error = %v", err)
		}
		w.Close()

		prevStdin := os.Stdin
		os.Stdin = r
		t.Cleanup(func() { os.Stdin = prevStdin })
	}

	withStdin(t, "y\n")
	if !confirmPrompt("proceed?") {
		t.Error("confirmPrompt(\"y\") = false, want true")
	}

	withStdin(t, "n\n")
	if confirmPrompt("proceed?") {
		t.Error("confirmPrompt(\"n\") = true, want false")
	}

	withStdin(t, "\n")
	if confirmPrompt("proceed?") {
		t.Error("confirmPrompt(empty input) = true, want false")
	}
}

func TestStatsCommandReportsRootSummary(t *testing.T) {
	cfg := newTestCLIConfig(t)
	withConfigFile(t, cfg)

	idx, err := metadata.Open(cfg.DatabaseFile)
	if err != nil {
		t.Fatalf("metadata.Open error = %v", err)
	}
	idx.Close()

	if err := statsCmd.RunE(&cobra.Command{}, nil); err != nil {
		t.Fatalf("statsCmd.RunE error = %v", err)
	}
}

func TestNukeCommandForceSkipsPrompt(t *testing.T) {
	cfg := newTestCLIConfig(t)
	withConfigFile(t, cfg)

	idx, err := metadata.Open(cfg.DatabaseFile)
	if err != nil {
		t.Fatalf("metadata.Open error = %v", err)
	}
	fileID, err := idx.AddFile(context.Background(), metadata.File{
		Kind: metadata.KindRegular, Name: "gone.txt", UID: 1000, GID: 1000, Perms: 0o644,
	})
	if err != nil {
		t.Fatalf("AddFile error = %v", err)
	}
	if err := idx.AddDirectoryEntry(context.Background(), metadata.DirectoryEntry{
		DirectoryFileID: metadata.RootID, EntryFileID: fileID, Name: "gone.txt", Kind: metadata.KindRegular,
	}); err != nil {
		t.Fatalf("AddDirectoryEntry error = %v", err)
	}
	idx.Close()

	cmd := &cobra.Command{}
	cmd.Flags().Bool("force", true, "")
	if err := nukeCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("nukeCmd.RunE error = %v", err)
	}

	idx, err = metadata.Open(cfg.DatabaseFile)
	if err != nil {
		t.Fatalf("metadata.Open after nuke error = %v", err)
	}
	defer idx.Close()
	entries, err := idx.GetDirectoryEntries(context.Background(), metadata.RootID, 100, 0)
	if err != nil {
		t.Fatalf("GetDirectoryEntries error = %v", err)
	}
	for _, e := range entries {
		if e.Name == "gone.txt" {
			t.Fatal("nuke with --force left a stale directory entry behind")
		}
	}
}
