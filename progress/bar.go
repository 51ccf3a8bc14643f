package progress

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/jmorganca/ngram/format"
)

type Stats struct {
	rate      int64
	value     int64
	remaining time.Duration
}

// Bar tracks bytes of input consumed out of a known total.
type Bar struct {
	mu sync.Mutex

	message string

	maxValue     int64
	currentValue int64

	started time.Time

	stats   Stats
	statted time.Time
}

func NewBar(message string, maxValue int64) *Bar {
	return &Bar{
		message:  message,
		maxValue: maxValue,
		started:  time.Now(),
	}
}

// formatDuration limits the rendering of a time.Duration to 2 units
func formatDuration(d time.Duration) string {
	if d >= 100*time.Hour {
		return "99h+"
	}

	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}

	return d.Round(time.Second).String()
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = 80
	}

	return b.render(termWidth)
}

func (b *Bar) render(termWidth int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pre, mid, suf strings.Builder
	if b.message != "" {
		pre.WriteString(strings.TrimSpace(b.message))
		pre.WriteString(" ")
	}

	percent := b.percent()
	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(percent))

	fmt.Fprintf(&suf, "(%s/%s", format.HumanBytes(b.currentValue), format.HumanBytes(b.maxValue))

	stats := b.updateStats()
	running := stats.value > 0 && stats.value < b.maxValue
	if running {
		fmt.Fprintf(&suf, ", %s/s", format.HumanBytes(stats.rate))
	}
	suf.WriteString(")")

	if running {
		fmt.Fprintf(&suf, " [%s:%s]", formatDuration(time.Since(b.started)), formatDuration(stats.remaining))
	}

	// 2 boundary characters and 1 space at the end
	f := termWidth - pre.Len() - suf.Len() - 3
	if f > 0 {
		n := int(float64(f) * percent / 100)
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		mid.WriteString(strings.Repeat(" ", f-n))
		mid.WriteString("▏ ")
	}

	return pre.String() + mid.String() + suf.String()
}

func (b *Bar) Set(value int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentValue = min(value, b.maxValue)
}

func (b *Bar) Add(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentValue = min(b.currentValue+n, b.maxValue)
}

func (b *Bar) percent() float64 {
	if b.maxValue > 0 {
		return float64(b.currentValue) / float64(b.maxValue) * 100
	}

	return 0
}

// updateStats refreshes the rate at most once per second.
func (b *Bar) updateStats() Stats {
	if !b.statted.IsZero() && time.Since(b.statted) < time.Second {
		return b.stats
	}

	switch {
	case b.statted.IsZero():
		b.stats = Stats{value: b.currentValue}
	case b.currentValue >= b.maxValue:
		b.stats = Stats{value: b.maxValue}
	default:
		rate := b.currentValue - b.stats.value
		remaining := time.Duration(math.MaxInt64)
		if rate > 0 {
			remaining = time.Second * time.Duration(float64(b.maxValue-b.currentValue)/float64(rate))
		}

		b.stats = Stats{value: b.currentValue, rate: rate, remaining: remaining}
	}

	b.statted = time.Now()
	return b.stats
}
