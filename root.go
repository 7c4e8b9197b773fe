package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"whisperkey/config"
	"whisperkey/log"
	"whisperkey/shutdown"
)

var version = "dev"

type rootFlags struct {
	configPath string
	logPath    string
}

func run() int {
	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "whisperkey",
		Short: "whisperkey - push-to-talk dictation into any window",
		Long: "whisperkey records from the microphone while a global shortcut is active,\n" +
			"transcribes with a faster-whisper server and pastes the text into the focused window.",
		Example: `  whisperkey run
  whisperkey run --tui --pick-device
  whisperkey gpu --probe
  whisperkey selftest`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return flags.setupLogging()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			log.Close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath(), "path to config.yaml")
	cmd.PersistentFlags().StringVar(&flags.logPath, "logpath", "", "log directory (default: OS-specific location, use ./ for current dir)")

	cmd.AddCommand(newRunCmd(&flags))
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newGPUCmd(&flags))
	cmd.AddCommand(newSelftestCmd(&flags))
	cmd.AddCommand(newDoctorCmd(&flags))
	cmd.AddCommand(newConfigCmd(&flags))

	return cmd
}

func (f *rootFlags) setupLogging() error {
	dir, err := log.ResolveDir(f.logPath)
	if err != nil {
		return fmt.Errorf("resolve log directory: %w", err)
	}
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
		return nil
	}

	crashFile, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== %s %s [pid=%d] ===\n", version, time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}
	return nil
}

func (f *rootFlags) settings() (config.Settings, error) {
	s, err := config.Load(f.configPath)
	if err != nil {
		return s, fmt.Errorf("load %s: %w", f.configPath, err)
	}
	return s, nil
}
