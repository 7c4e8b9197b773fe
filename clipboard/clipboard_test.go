package clipboard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestInjector(clip *FakeClipboard, p *FakePaster, policy Policy) *Injector {
	inj := NewInjector(clip, p, policy)
	inj.PasteDelay = time.Millisecond
	inj.RestoreDelay = 10 * time.Millisecond
	return inj
}

func TestInjectLeaveText(t *testing.T) {
	clip := NewFakeClipboard("previous")
	p := &FakePaster{}
	inj := newTestInjector(clip, p, LeaveText)

	if err := inj.Inject(context.Background(), "hello"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	inj.Wait()
	if clip.Text() != "hello" {
		t.Errorf("clipboard = %q, want hello", clip.Text())
	}
	if p.Count() != 1 {
		t.Errorf("paste count = %d", p.Count())
	}
}

func TestInjectRestore(t *testing.T) {
	clip := NewFakeClipboard("previous")
	p := &FakePaster{}
	inj := newTestInjector(clip, p, Restore)

	if err := inj.Inject(context.Background(), "hello"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if clip.Text() != "hello" {
		t.Errorf("clipboard right after paste = %q", clip.Text())
	}
	inj.Wait()
	if clip.Text() != "previous" {
		t.Errorf("clipboard = %q, want previous restored", clip.Text())
	}
}

func TestInjectRestoreSkippedWhenUserCopied(t *testing.T) {
	clip := NewFakeClipboard("previous")
	p := &FakePaster{}
	inj := newTestInjector(clip, p, Restore)
	inj.RestoreDelay = 100 * time.Millisecond
	p.OnPaste = func() {
		go func() {
			time.Sleep(2 * time.Millisecond)
			clip.Write("user copy")
		}()
	}

	if err := inj.Inject(context.Background(), "hello"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	inj.Wait()
	if clip.Text() != "user copy" {
		t.Errorf("clipboard = %q, user copy must survive", clip.Text())
	}
}

func TestInjectNoRestoreReadWithLeavePolicy(t *testing.T) {
	clip := NewFakeClipboard("previous")
	clip.ReadErr = errors.New("read must not be called")
	inj := newTestInjector(clip, &FakePaster{}, LeaveText)
	if err := inj.Inject(context.Background(), "hello"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
}

func TestInjectErrors(t *testing.T) {
	for _, tt := range []struct {
		name     string
		setup    func(*FakeClipboard, *FakePaster, *Injector)
		want     InjectionErrorKind
		clipText string
		pastes   int
	}{
		{
			name: "own window focused",
			setup: func(_ *FakeClipboard, _ *FakePaster, i *Injector) {
				i.SetFocusReporter(FocusFunc(func() bool { return true }))
			},
			want: NoExternalFocus, clipText: "previous", pastes: 0,
		},
		{
			name: "clipboard denied",
			setup: func(c *FakeClipboard, _ *FakePaster, _ *Injector) {
				c.WriteErr = errors.New("access denied")
			},
			want: ClipboardAccessDenied, clipText: "previous", pastes: 0,
		},
		{
			name: "paste fails",
			setup: func(_ *FakeClipboard, p *FakePaster, _ *Injector) {
				p.Err = errors.New("uinput: permission denied")
			},
			want: InputSimulationFailed, clipText: "hello", pastes: 1,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			clip := NewFakeClipboard("previous")
			p := &FakePaster{}
			inj := newTestInjector(clip, p, Restore)
			tt.setup(clip, p, inj)

			err := inj.Inject(context.Background(), "hello")
			var ie *InjectionError
			if !errors.As(err, &ie) || ie.Kind != tt.want {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			inj.Wait()
			if clip.Text() != tt.clipText {
				t.Errorf("clipboard = %q, want %q", clip.Text(), tt.clipText)
			}
			if p.Count() != tt.pastes {
				t.Errorf("pastes = %d, want %d", p.Count(), tt.pastes)
			}
		})
	}
}

func TestInjectCanceled(t *testing.T) {
	clip := NewFakeClipboard("")
	p := &FakePaster{}
	inj := NewInjector(clip, p, LeaveText)
	inj.PasteDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := inj.Inject(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if p.Count() != 0 {
		t.Error("pasted after cancel")
	}
	if clip.Text() != "hello" {
		t.Error("text not left on clipboard")
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": LeaveText, "leave": LeaveText, "Restore": Restore} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("keep"); err == nil {
		t.Error("unknown policy accepted")
	}
}
