package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"whisperkey/audio"
	"whisperkey/clipboard"
	"whisperkey/config"
	"whisperkey/device"
	"whisperkey/doctor"
	"whisperkey/transcriber"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List microphones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("initialize audio: %w", err)
			}
			defer ctx.Close()
			devices, err := ctx.Devices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "no input devices found")
				return nil
			}
			for i, d := range devices {
				tag := ""
				if audio.IsBluetooth(d.Name) {
					tag = "  [bluetooth: lower quality]"
				}
				fmt.Fprintf(out, "%2d  %s%s\n", i, d.Name, tag)
			}
			return nil
		},
	}
}

func newGPUCmd(root *rootFlags) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "gpu",
		Short: "Show GPU support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			prober := device.NewSystemProber(libsDir(s))
			report := struct {
				device.Info
				Probe *device.Probe `json:"probe,omitempty"`
			}{Info: prober.Info()}
			if probe {
				p := device.NewSelector(prober).Reprobe()
				report.Probe = &p
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "run a fresh GPU probe")
	return cmd
}

func newSelftestCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Transcribe a synthetic tone through the configured backend",
		Long:  "Sends two seconds of tone to the transcription backend without touching the microphone or clipboard.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			sel := device.NewSelector(device.NewSystemProber(libsDir(s)))
			backend := transcriber.NewWhisperServer(s.Backend.URL, s.Backend.APIKey, s.Backend.ModelTemplate)
			svc := transcriber.NewService(backend, sel)
			defer svc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			tr, err := doctor.SelfTest(ctx, svc, sel, s.Intent(), s.ModelSize, s.Language)
			if err != nil {
				return fmt.Errorf("selftest: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s on %s/%s in %dms, text %q\n",
				s.ModelSize, tr.Device, tr.ComputeType, tr.Elapsed.Milliseconds(), tr.Text)
			return nil
		},
	}
}

func newDoctorCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check hotkeys, microphone, clipboard, GPU and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "whisperkey doctor")

			sel := device.NewSelector(device.NewSystemProber(libsDir(s)))
			backend := transcriber.NewWhisperServer(s.Backend.URL, s.Backend.APIKey, s.Backend.ModelTemplate)
			checks := []doctor.Check{
				doctor.HotkeyCheck(),
				doctor.MicrophoneCheck(audio.NewContext),
				doctor.GPUCheck(sel),
				doctor.BackendCheck(backend, s.ModelSize),
			}
			if !clipboard.Unsupported() {
				checks = append(checks, doctor.ClipboardCheck(clipboard.System{}))
			}
			checks = append(checks, doctor.PasteCheck(&clipboard.KeyPaster{}))

			if _, ok := doctor.Run(cmd.Context(), out, checks); !ok {
				return errors.New("some checks failed")
			}
			fmt.Fprintln(out, "All checks passed!")
			return nil
		},
	}
}

func newConfigCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the settings file",
		Example: `  whisperkey config show
  whisperkey config get bindings.toggle
  whisperkey config init`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			if s.Backend.APIKey != "" {
				s.Backend.APIKey = "********"
			}
			data, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print one setting by dotted key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			v, ok := s.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown key %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), root.configPath)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(root.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", root.configPath)
			}
			if err := config.Save(root.configPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", root.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func libsDir(s config.Settings) string {
	if s.GPULibsDir != "" {
		return s.GPULibsDir
	}
	return device.DefaultLibsDir()
}
