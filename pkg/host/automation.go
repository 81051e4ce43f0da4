package host

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// DefaultAutomationResolution is the spacing in frames of the points an
// Automation writes into a block.
const DefaultAutomationResolution = 32

// Curve shapes the segment from one automation point to the next
type Curve int

const (
	CurveLinear Curve = iota
	CurveExponential
	CurveLogarithmic
	CurveStep
)

func (c Curve) String() string {
	switch c {
	case CurveExponential:
		return "exp"
	case CurveLogarithmic:
		return "log"
	case CurveStep:
		return "step"
	}
	return "linear"
}

// ParseCurve accepts the names printed by Curve.String
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(s) {
	case "linear", "lin", "":
		return CurveLinear, nil
	case "exp", "exponential":
		return CurveExponential, nil
	case "log", "logarithmic":
		return CurveLogarithmic, nil
	case "step":
		return CurveStep, nil
	}
	return CurveLinear, fmt.Errorf("unknown curve %q", s)
}

// AutomationPoint is a normalized value at a time in seconds. Curve shapes
// the way to the following point.
type AutomationPoint struct {
	Time  float64
	Value float64
	Curve Curve
}

// Lane is the automation of one parameter. Points are kept sorted by
// time.
type Lane struct {
	ID     vst3.ParamID
	Points []AutomationPoint
	// Loop repeats the lane with a period of its last point's time.
	Loop bool
}

// NewLane creates an empty lane for id
func NewLane(id vst3.ParamID) *Lane {
	return &Lane{ID: id}
}

// Add inserts a point after any point at the same time. The value is
// clamped to 0..1.
func (l *Lane) Add(seconds, value float64, curve Curve) *Lane {
	i := sort.Search(len(l.Points), func(i int) bool { return l.Points[i].Time > seconds })
	l.Points = append(l.Points, AutomationPoint{})
	copy(l.Points[i+1:], l.Points[i:])
	l.Points[i] = AutomationPoint{Time: math.Max(seconds, 0), Value: clamp01(value), Curve: curve}
	return l
}

// SetCurve gives every segment the same shape
func (l *Lane) SetCurve(c Curve) *Lane {
	for i := range l.Points {
		l.Points[i].Curve = c
	}
	return l
}

// Duration is the time of the last point
func (l *Lane) Duration() float64 {
	if len(l.Points) == 0 {
		return 0
	}
	return l.Points[len(l.Points)-1].Time
}

// ValueAt returns the value at a time in seconds. Before the first point
// the lane holds the first value, after the last point the last value. It
// reports false for an empty lane.
func (l *Lane) ValueAt(seconds float64) (float64, bool) {
	n := len(l.Points)
	if n == 0 {
		return 0, false
	}
	if d := l.Duration(); l.Loop && d > 0 {
		seconds = math.Mod(seconds, d)
	}

	next := sort.Search(n, func(i int) bool { return l.Points[i].Time > seconds })
	switch {
	case next == 0:
		return l.Points[0].Value, true
	case next == n:
		return l.Points[n-1].Value, true
	}
	p1, p2 := l.Points[next-1], l.Points[next]
	t := (seconds - p1.Time) / (p2.Time - p1.Time)
	switch p1.Curve {
	case CurveExponential:
		t *= t
	case CurveLogarithmic:
		t = math.Sqrt(t)
	case CurveStep:
		t = 0
	}
	return clamp01(p1.Value + (p2.Value-p1.Value)*t), true
}

func (l *Lane) clone() Lane {
	c := *l
	c.Points = append([]AutomationPoint(nil), l.Points...)
	return c
}

// Automation is a fixed set of lanes evaluated against the transport
// position of every block.
type Automation struct {
	lanes      []Lane
	resolution int
}

// NewAutomation snapshots lanes. Changing a lane afterwards does not affect
// the automation.
func NewAutomation(lanes ...*Lane) *Automation {
	a := &Automation{resolution: DefaultAutomationResolution}
	for _, l := range lanes {
		if l != nil && len(l.Points) > 0 {
			a.lanes = append(a.lanes, l.clone())
		}
	}
	return a
}

// SetResolution changes the spacing of the written points. It must be
// called before the automation is handed to a plugin.
func (a *Automation) SetResolution(frames int) {
	if frames > 0 {
		a.resolution = frames
	}
}

// Lanes returns the automated parameter ids
func (a *Automation) Lanes() []vst3.ParamID {
	ids := make([]vst3.ParamID, len(a.lanes))
	for i, l := range a.lanes {
		ids[i] = l.ID
	}
	return ids
}

// Fill writes the points of a block starting at sample pos. Each lane gets
// a point at the first frame and then every resolution frames while the
// value changes.
func (a *Automation) Fill(pos int64, frames int, sampleRate float64, add func(id vst3.ParamID, offset int32, value vst3.ParamValue)) {
	if frames <= 0 || sampleRate <= 0 {
		return
	}
	for i := range a.lanes {
		l := &a.lanes[i]
		last := math.NaN()
		for f := 0; f < frames; f += a.resolution {
			v, _ := l.ValueAt(float64(pos+int64(f)) / sampleRate)
			if v == last {
				continue
			}
			add(l.ID, int32(f), v)
			last = v
		}
	}
}

// SetAutomation plays a on every block from now on, following the transport
// position. Nil stops it. Automation needs an in-process plugin because the
// points are sample accurate.
func (p *Plugin) SetAutomation(a *Automation) error {
	if a == nil {
		p.bridge.SetAutomation(nil)
		return nil
	}
	if p.session != nil {
		return hosterr.New(hosterr.KindInterfaceMissing, "plugin.automate", "automation is not available for isolated plugins")
	}
	for _, l := range a.lanes {
		pr, err := p.Parameter(l.ID)
		if err != nil {
			return err
		}
		if pr.IsReadOnly() {
			return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.automate", "parameter %q is read only", pr.Name)
		}
	}
	p.bridge.SetAutomation(a)
	return nil
}
