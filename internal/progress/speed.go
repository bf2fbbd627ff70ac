package progress

import (
	"math"
	"time"
)

// speedHalfLife is the decay half-life of the download speed estimate. Three
// seconds smooths bursty multi-connection transfers without making the ETA
// noticeably laggy.
const speedHalfLife = 3 * time.Second

// idleCutoff is how long without bytes before the estimate reads as zero.
const idleCutoff = 10 * time.Second

// speedMeter is an exponentially-weighted moving average of bytes/sec.
// Zero value is ready to use. Not goroutine-safe; Aggregator serializes.
type speedMeter struct {
	ewma     float64
	lastSeen time.Time
}

func (m *speedMeter) observe(bytes int64, now time.Time) {
	if m.lastSeen.IsZero() {
		m.lastSeen = now
		m.ewma = 0
		return
	}
	dt := now.Sub(m.lastSeen).Seconds()
	if dt <= 0 {
		dt = 1e-3
	}
	sample := float64(bytes) / dt
	alpha := 1 - math.Exp(-dt*math.Ln2/speedHalfLife.Seconds())
	m.ewma += alpha * (sample - m.ewma)
	m.lastSeen = now
}

func (m *speedMeter) rate(now time.Time) float64 {
	if m.lastSeen.IsZero() || now.Sub(m.lastSeen) > idleCutoff {
		return 0
	}
	if m.ewma < 0 || math.IsNaN(m.ewma) || math.IsInf(m.ewma, 0) {
		return 0
	}
	return m.ewma
}
