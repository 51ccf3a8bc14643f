package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSpinner(t *testing.T) {
	s := NewSpinner("loading toy")
	if got := s.String(); !strings.HasPrefix(got, "loading toy ") {
		t.Fatalf("unexpected spinner %q", got)
	}

	s.SetMessage("loaded toy")
	s.Stop()
	s.Stop()

	got := s.String()
	if !strings.HasPrefix(got, "loaded toy (") || !strings.HasSuffix(got, ")") {
		t.Fatalf("unexpected stopped spinner %q", got)
	}

	for _, part := range spinnerParts {
		if strings.Contains(got, part) {
			t.Fatalf("stopped spinner still animates: %q", got)
		}
	}
}

func TestBar(t *testing.T) {
	b := NewBar("scoring", 1000)

	got := b.render(80)
	if !strings.HasPrefix(got, "scoring   0% ▕") {
		t.Errorf("unexpected bar %q", got)
	}

	b.Add(250)
	if !strings.Contains(b.render(80), "(250 B/1.0 KB") {
		t.Errorf("unexpected bar %q", b.render(80))
	}

	b.Set(5000)
	got = b.render(80)
	if !strings.HasPrefix(got, "scoring 100% ") || !strings.HasSuffix(got, "(1.0 KB/1.0 KB)") {
		t.Errorf("unexpected bar %q", got)
	}

	// too narrow for the bar itself
	if strings.Contains(b.render(10), "▕") {
		t.Errorf("bar should be omitted on narrow terminals")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		1500 * time.Millisecond:        "2s",
		90 * time.Minute:               "1h30m",
		100 * time.Hour:                "99h+",
		2*time.Minute + 3*time.Second: "2m3s",
	}

	for d, want := range cases {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)

	s := NewSpinner("loading")
	p.Add("", s)

	if !p.Stop() {
		t.Fatal("expected first Stop to report stopped")
	}

	if p.Stop() {
		t.Fatal("expected second Stop to be a no-op")
	}

	out := buf.String()
	if !strings.Contains(out, "loading (") {
		t.Errorf("expected final spinner state, got %q", out)
	}

	if !strings.HasSuffix(out, "\033[?25h") {
		t.Errorf("expected cursor to be restored, got %q", out)
	}
}
