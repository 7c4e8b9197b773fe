package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrPickCanceled = errors.New("device selection canceled")

type pickAction int

const (
	pickNone pickAction = iota
	pickConfirm
	pickCancel
)

// pickKey applies one keypress to the cursor position.
func pickKey(cursor, n int, key []byte) (int, pickAction) {
	switch {
	case len(key) == 1 && (key[0] == '\r' || key[0] == '\n'):
		return cursor, pickConfirm
	case len(key) == 1 && (key[0] == 3 || key[0] == 'q'): // Ctrl+C
		return cursor, pickCancel
	case len(key) == 1 && key[0] == 'j',
		len(key) == 3 && key[0] == 0x1b && key[1] == '[' && key[2] == 'B':
		if cursor < n-1 {
			cursor++
		}
	case len(key) == 1 && key[0] == 'k',
		len(key) == 3 && key[0] == 0x1b && key[1] == '[' && key[2] == 'A':
		if cursor > 0 {
			cursor--
		}
	}
	return cursor, pickNone
}

// PickDevice lets the user choose a microphone with the arrow keys and
// returns its index into ctx.Devices. The terminal is put in raw mode for
// the duration of the prompt.
func PickDevice(ctx Context, in *os.File, out io.Writer) (int, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return -1, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return -1, errors.New("no capture devices found")
	case 1:
		return 0, nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return -1, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	render := func() {
		fmt.Fprint(out, "\r\x1b[J")
		fmt.Fprint(out, "Select input device (↑/↓, Enter to confirm):\r\n\r\n")
		for i, d := range devices {
			tag := ""
			if IsBluetooth(d.Name) {
				tag = " \x1b[33m[bluetooth: lower quality]\x1b[0m"
			}
			if i == cursor {
				fmt.Fprintf(out, "  \x1b[1;36m▶ %d. %s%s\x1b[0m\r\n", i, d.Name, tag)
			} else {
				fmt.Fprintf(out, "    %d. %s%s\r\n", i, d.Name, tag)
			}
		}
	}
	render()

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return -1, fmt.Errorf("reading input: %w", err)
		}
		var action pickAction
		cursor, action = pickKey(cursor, len(devices), buf[:n])
		switch action {
		case pickConfirm:
			fmt.Fprint(out, "\r\n")
			return cursor, nil
		case pickCancel:
			fmt.Fprint(out, "\r\n")
			return -1, ErrPickCanceled
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		render()
	}
}
