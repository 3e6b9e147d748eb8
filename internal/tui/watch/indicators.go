package watch

import (
	"strings"
	"time"
)

// Ticker rotates through frames to show the monitor is alive.
// Stops rotating if no ticks arrive.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Pulse lights up on each scan in the color of its result and fades over
// the following ten seconds.
type Pulse struct {
	dots       int
	lastScan   time.Time
	lastResult string
}

func (p *Pulse) OnScan(result string, at time.Time) {
	p.dots = 5
	p.lastScan = at
	p.lastResult = result
}

// Decay fades the dots based on time since the last scan.
func (p *Pulse) Decay(now time.Time) {
	if p.dots == 0 {
		return
	}
	elapsed := now.Sub(p.lastScan)
	p.dots = 5 - int(elapsed/(2*time.Second))
	if p.dots < 0 {
		p.dots = 0
	}
}

func (p Pulse) Render(theme Theme) string {
	lit := theme.ResultStyle(p.lastResult)
	var b strings.Builder
	for i := range 5 {
		if i < p.dots {
			b.WriteString(lit.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastScan() time.Time {
	return p.lastScan
}
