package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"whisperkey/audio"
	"whisperkey/beep"
	"whisperkey/clipboard"
	"whisperkey/config"
	"whisperkey/controller"
	"whisperkey/device"
	"whisperkey/hotkey"
	"whisperkey/log"
	"whisperkey/server"
	"whisperkey/transcriber"
)

type runFlags struct {
	tui        bool
	pickDevice bool
	noBeep     bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dictation daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), root, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "show a terminal level meter")
	cmd.Flags().BoolVar(&flags.pickDevice, "pick-device", false, "choose the microphone interactively before starting")
	cmd.Flags().BoolVar(&flags.noBeep, "no-beep", false, "disable audible start/stop cues")
	return cmd
}

func optionsFrom(s config.Settings) controller.Options {
	return controller.Options{
		ModelSize: s.ModelSize,
		Device:    s.Intent(),
		Language:  s.Language,
		MicIndex:  s.MicIndex,
	}
}

func runDaemon(ctx context.Context, root *rootFlags, flags runFlags, out io.Writer) error {
	store, err := config.Open(root.configPath)
	if err != nil {
		return err
	}
	s := store.Settings()

	actx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initialize audio: %w", err)
	}
	defer actx.Close()

	if flags.pickDevice {
		idx, err := audio.PickDevice(actx, os.Stdin, out)
		if err != nil {
			return fmt.Errorf("device selection: %w", err)
		}
		if err := store.Update(func(s *config.Settings) { s.MicIndex = idx }); err != nil {
			return err
		}
	}

	prober := device.NewSystemProber(libsDir(s))
	sel := device.NewSelector(prober)

	backend := transcriber.NewWhisperServer(s.Backend.URL, s.Backend.APIKey, s.Backend.ModelTemplate)
	svc := transcriber.NewService(backend, sel)
	defer svc.Close()

	injector := clipboard.NewInjector(clipboard.System{}, &clipboard.KeyPaster{}, s.Policy())
	defer injector.Wait()

	disp := hotkey.NewDispatcher(hotkey.SystemBackend{})
	defer disp.Close()
	grab := newCancelGrab(disp)
	if err := bindKeys(disp, grab, s.Bindings); err != nil {
		return err
	}

	cues := beep.NewSink(beep.System(), s.Beep && !flags.noBeep)
	sinks := controller.Sinks{cues, grab}

	var tui *tuiProgram
	if flags.tui {
		tui = newTUI(s)
		sinks = append(sinks, tui.sink())
		// Nothing is pasted while the TUI terminal has focus.
		injector.SetFocusReporter(clipboard.FocusFunc(tui.focused))
	} else {
		sinks = append(sinks, newConsoleSink(out))
	}

	capture := audio.NewCapture(actx)
	deps := controller.Deps{
		Capture:     capture,
		Transcriber: svc,
		Injector:    injector,
		Devices:     sel,
		Sink:        sinks,
		Defaults:    func() controller.Options { return optionsFrom(store.Settings()) },
		ArchiveDir:  func() string { return store.Settings().KeepAudioDir },
	}
	if vad, err := audio.NewVoiceActivity(); err != nil {
		log.Warnf("voice activity detection unavailable: %v", err)
	} else {
		capture.Tap(vad.Write)
		deps.Voice = vad
	}
	ctrl := controller.New(deps)

	srv := server.New(server.Deps{
		Controller: ctrl,
		Probes:     sel,
		Defaults:   func() controller.Options { return optionsFrom(store.Settings()) },
		Inputs:     actx.Devices,
		GPUInfo:    prober.Info,
		Backend:    s.Backend.URL,
		Version:    version,
	})
	ln, err := server.Listen(ctx, s.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Server.Addr, err)
	}
	log.Infof("listening on %s", s.Server.Addr)

	// preload the default model
	go func() {
		res, err := sel.Resolve(s.Intent())
		if err != nil {
			log.Warnf("preload: %v", err)
			return
		}
		if err := svc.EnsureLoaded(ctx, s.ModelSize, res.Device); err != nil {
			log.Warnf("preload %s on %s: %v", s.ModelSize, res.Device, err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx, ln) })
	g.Go(func() error { return grab.run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case a, ok := <-disp.Events():
				if !ok {
					return nil
				}
				dispatch(ctrl, a)
			}
		}
	})
	g.Go(func() error {
		err := store.Watch(ctx, func(next config.Settings) {
			if err := bindKeys(disp, grab, next.Bindings); err != nil {
				log.Warnf("rebind after config change: %v", err)
			}
			cues.SetEnabled(next.Beep && !flags.noBeep)
			if next.Policy() != injector.Policy() || next.Backend != s.Backend || next.Server != s.Server {
				log.Warn("clipboard, backend and server changes take effect after restart")
			}
		})
		if err != nil {
			log.Warnf("config watch disabled: %v", err)
		}
		return nil
	})
	if tui != nil {
		g.Go(func() error { return tui.run(ctx, ctrl) })
	} else {
		fmt.Fprintf(out, "whisperkey %s: press %s to dictate, %s to cancel (http on %s)\n",
			version, s.Bindings.Toggle, s.Bindings.Cancel, s.Server.Addr)
	}

	err = g.Wait()
	if errors.Is(err, errTUIQuit) {
		return nil
	}
	return err
}

type binder interface {
	Bind(action hotkey.Action, descriptor string) error
	Unbind(action hotkey.Action)
}

// bindKeys binds the toggle shortcut and hands the cancel shortcut to grab.
// Both descriptors are validated before anything is bound.
func bindKeys(d binder, grab *cancelGrab, b config.Bindings) error {
	toggle, err := hotkey.Parse(b.Toggle)
	if err != nil {
		return fmt.Errorf("bind toggle %q: %w", b.Toggle, err)
	}
	cancel, err := hotkey.Parse(b.Cancel)
	if err != nil {
		return fmt.Errorf("bind cancel %q: %w", b.Cancel, err)
	}
	if cancel == toggle {
		return fmt.Errorf("bind cancel %q: %w", b.Cancel, hotkey.ErrBindingConflict)
	}
	if err := d.Bind(hotkey.ActionToggle, b.Toggle); err != nil {
		return fmt.Errorf("bind toggle %q: %w", b.Toggle, err)
	}
	grab.SetShortcut(b.Cancel)
	return nil
}

// cancelGrab holds the cancel shortcut only while a recording runs. The
// system backends on macOS and Windows swallow a bound key in every
// application, so Escape is released as soon as recording ends.
type cancelGrab struct {
	keys binder
	wake chan struct{}

	mu       sync.Mutex
	shortcut string
	want     bool

	// owned by apply
	bound string
}

func newCancelGrab(keys binder) *cancelGrab {
	return &cancelGrab{keys: keys, wake: make(chan struct{}, 1)}
}

func (g *cancelGrab) SetShortcut(descriptor string) {
	g.mu.Lock()
	g.shortcut = descriptor
	g.mu.Unlock()
	g.poke()
}

func (g *cancelGrab) StateChanged(st controller.State) {
	g.mu.Lock()
	g.want = st == controller.Recording
	g.mu.Unlock()
	g.poke()
}

func (g *cancelGrab) SessionFinished(controller.Outcome) {}
func (g *cancelGrab) Warning(string)                     {}

func (g *cancelGrab) poke() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// run applies binding changes off the control goroutine.
func (g *cancelGrab) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.wake:
			g.apply()
		}
	}
}

func (g *cancelGrab) apply() {
	g.mu.Lock()
	want, shortcut := g.want, g.shortcut
	g.mu.Unlock()

	switch {
	case want && shortcut != "" && g.bound != shortcut:
		if err := g.keys.Bind(hotkey.ActionCancel, shortcut); err != nil {
			log.Warnf("bind cancel %q: %v", shortcut, err)
			return
		}
		g.bound = shortcut
	case !want && g.bound != "":
		g.keys.Unbind(hotkey.ActionCancel)
		g.bound = ""
	}
}

type dictation interface {
	Toggle()
	Cancel() error
	State() controller.State
}

func dispatch(c dictation, a hotkey.Action) {
	switch a {
	case hotkey.ActionToggle:
		log.Info("hotkey_toggle")
		c.Toggle()
	case hotkey.ActionCancel:
		// The grab is released asynchronously, so a press can still arrive
		// just after the recording ended.
		if c.State() != controller.Recording {
			return
		}
		log.Info("hotkey_cancel")
		if err := c.Cancel(); err != nil && !errors.Is(err, controller.ErrNotRecording) {
			log.Warnf("cancel: %v", err)
		}
	}
}
