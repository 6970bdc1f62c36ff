package vt

import (
	"bytes"
	"testing"
)

func TestRespondCursorPosition(t *testing.T) {
	r := NewResponder()
	st := WindowState{CursorRow: 4, CursorCol: 9, Cols: 80, Rows: 24}

	got := r.Respond([]byte("\x1b[6n"), st)
	if want := []byte("\x1b[5;10R"); !bytes.Equal(got, want) {
		t.Errorf("CPR = %q, want %q", got, want)
	}

	got = r.Respond([]byte("\x1b[?6n"), st)
	if want := []byte("\x1b[?5;10R"); !bytes.Equal(got, want) {
		t.Errorf("DECXCPR = %q, want %q", got, want)
	}
}

func TestRespondDeviceStatus(t *testing.T) {
	r := NewResponder()
	got := r.Respond([]byte("\x1b[5n"), WindowState{Cols: 80, Rows: 24})
	if want := []byte("\x1b[0n"); !bytes.Equal(got, want) {
		t.Errorf("DSR = %q, want %q", got, want)
	}
}

func TestRespondModeQueryDefaults(t *testing.T) {
	r := NewResponder()
	st := WindowState{Cols: 80, Rows: 24}

	// Cursor visibility and autowrap report enabled by default.
	if got := r.Respond([]byte("\x1b[?25$p"), st); !bytes.Equal(got, []byte("\x1b[?25;1$y")) {
		t.Errorf("DECRQM 25 = %q", got)
	}
	if got := r.Respond([]byte("\x1b[?7$p"), st); !bytes.Equal(got, []byte("\x1b[?7;1$y")) {
		t.Errorf("DECRQM 7 = %q", got)
	}
	if got := r.Respond([]byte("\x1b[?2004$p"), st); !bytes.Equal(got, []byte("\x1b[?2004;2$y")) {
		t.Errorf("DECRQM 2004 = %q", got)
	}
}

func TestRespondModeQueryTracksChanges(t *testing.T) {
	r := NewResponder()
	st := WindowState{Cols: 80, Rows: 24}

	r.Respond([]byte("\x1b[?2004h"), st)
	if got := r.Respond([]byte("\x1b[?2004$p"), st); !bytes.Equal(got, []byte("\x1b[?2004;1$y")) {
		t.Errorf("DECRQM after set = %q", got)
	}

	r.Respond([]byte("\x1b[?25l"), st)
	if got := r.Respond([]byte("\x1b[?25$p"), st); !bytes.Equal(got, []byte("\x1b[?25;2$y")) {
		t.Errorf("DECRQM after reset = %q", got)
	}
}

func TestRespondKittyKeyboard(t *testing.T) {
	r := NewResponder()
	got := r.Respond([]byte("\x1b[?u"), WindowState{Cols: 80, Rows: 24})
	if want := []byte("\x1b[?0u"); !bytes.Equal(got, want) {
		t.Errorf("kitty keyboard = %q, want %q", got, want)
	}
}

func TestRespondPixelSize(t *testing.T) {
	r := NewResponder()
	got := r.Respond([]byte("\x1b[14t"), WindowState{Cols: 120, Rows: 40})
	if want := []byte("\x1b[4;640;960t"); !bytes.Equal(got, want) {
		t.Errorf("pixel size = %q, want %q", got, want)
	}
}

func TestRespondDeviceAttributes(t *testing.T) {
	r := NewResponder()
	got := r.Respond([]byte("\x1b[c"), WindowState{Cols: 80, Rows: 24})
	if want := []byte("\x1b[?62;22c"); !bytes.Equal(got, want) {
		t.Errorf("DA1 = %q, want %q", got, want)
	}
}

func TestRespondOSCColors(t *testing.T) {
	r := NewResponder()
	st := WindowState{Cols: 80, Rows: 24}

	if got := r.Respond([]byte("\x1b]10;?\x07"), st); !bytes.Equal(got, []byte("\x1b]10;rgb:e5e5/e5e5/e5e5\x07")) {
		t.Errorf("OSC 10 = %q", got)
	}
	// ST-terminated query gets an ST-terminated reply.
	if got := r.Respond([]byte("\x1b]11;?\x1b\\"), st); !bytes.Equal(got, []byte("\x1b]11;rgb:0a0a/0a0a/0a0a\x1b\\")) {
		t.Errorf("OSC 11 = %q", got)
	}
	if got := r.Respond([]byte("\x1b]4;1;?\x07"), st); !bytes.Equal(got, []byte("\x1b]4;1;rgb:cdcd/3131/3131\x07")) {
		t.Errorf("OSC 4 = %q", got)
	}
}

func TestRespondKittyGraphicsProbe(t *testing.T) {
	r := NewResponder()
	got := r.Respond([]byte("\x1b_Gi=31337,s=1,v=1,a=q;AAAA\x1b\\"), WindowState{Cols: 80, Rows: 24})
	if want := []byte("\x1b_Gi=31337;OK\x1b\\"); !bytes.Equal(got, want) {
		t.Errorf("kitty graphics = %q, want %q", got, want)
	}
}

func TestRespondPartialSequenceCarried(t *testing.T) {
	r := NewResponder()
	st := WindowState{CursorRow: 0, CursorCol: 0, Cols: 80, Rows: 24}

	if got := r.Respond([]byte("output\x1b[6"), st); got != nil {
		t.Fatalf("premature answer %q", got)
	}
	got := r.Respond([]byte("n"), st)
	if want := []byte("\x1b[1;1R"); !bytes.Equal(got, want) {
		t.Errorf("carried CPR = %q, want %q", got, want)
	}
}

func TestRespondIgnoresOrdinaryOutput(t *testing.T) {
	r := NewResponder()
	got := r.Respond([]byte("\x1b[31mred text\x1b[0m\r\nplain"), WindowState{Cols: 80, Rows: 24})
	if got != nil {
		t.Errorf("unexpected answer %q", got)
	}
}
