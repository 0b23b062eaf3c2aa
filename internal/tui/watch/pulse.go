package watch

import (
	"strings"
	"time"
)

const pulseDots = 5

// pulse lights up on every event and fades one dot per two seconds of quiet.
type pulse struct {
	lit  int
	last time.Time
}

func (p *pulse) hit(now time.Time) {
	p.lit = pulseDots
	p.last = now
}

func (p *pulse) decay(now time.Time) {
	if p.lit == 0 {
		return
	}
	faded := int(now.Sub(p.last) / (2 * time.Second))
	p.lit = max(pulseDots-faded, 0)
}

func (p pulse) render(theme Theme) string {
	var b strings.Builder
	for i := range pulseDots {
		if i < p.lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}
