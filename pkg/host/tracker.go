package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/tp2/canbridge/pkg/protocol"
)

// An angle not updated for longer than this is stale
const StaleAfter = 2 * time.Second

var AngleTypes = []byte{protocol.AngleRoll, protocol.AnglePitch, protocol.AngleHeading}

type Sample struct {
	Value   string
	Updated time.Time
}

// Group is the last known state of one TP2 angle group
type Group struct {
	ID         int
	Angles     map[byte]Sample
	LastUpdate time.Time
}

// Stale reports whether the angle type was never received or is too old
func (g Group) Stale(angleType byte, now time.Time) bool {
	sample, ok := g.Angles[angleType]
	return !ok || now.Sub(sample.Updated) > StaleAfter
}

// Tracker keeps the latest angles received for every group
type Tracker struct {
	mu      sync.Mutex
	groups  [GroupCount]Group
	timeNow func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{timeNow: time.Now}
	t.Reset()
	return t
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.groups {
		t.groups[i] = Group{ID: i, Angles: make(map[byte]Sample)}
	}
}

// Update records the angle carried by a report, returns false when the
// report is not a TP2 angle of a known group
func (t *Tracker) Update(report Report) bool {
	group := int(report.Frame.ID) - int(protocol.AngleFrameID)
	if group < 0 || group >= GroupCount {
		return false
	}
	angle, ok := report.GuessAngle()
	if !ok || angle.Text == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.timeNow()
	t.groups[group].Angles[angle.Type] = Sample{Value: angle.Text, Updated: now}
	t.groups[group].LastUpdate = now
	return true
}

// Snapshot returns a copy of every group
func (t *Tracker) Snapshot() []Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	groups := make([]Group, GroupCount)
	for i, g := range t.groups {
		angles := make(map[byte]Sample, len(g.Angles))
		for k, v := range g.Angles {
			angles[k] = v
		}
		groups[i] = Group{ID: g.ID, Angles: angles, LastUpdate: g.LastUpdate}
	}
	return groups
}

func (t *Tracker) Now() time.Time {
	return t.timeNow()
}

// FormatElapsed renders a duration as "Ns", "Nm Ns" or "Nh Nm"
func FormatElapsed(d time.Duration) string {
	seconds := int(d / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
