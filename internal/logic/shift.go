package logic

import "time"

type shiftWindow struct {
	start, end time.Duration
	shift      Shift
}

// The last window ends at 23:59:59, not midnight, so the final second of
// each day belongs to no shift.
var shiftTable = []shiftWindow{
	{0, 6 * time.Hour, ShiftZeta},
	{6 * time.Hour, 12 * time.Hour, ShiftDawn},
	{12 * time.Hour, 18 * time.Hour, ShiftAlpha},
	{18 * time.Hour, 23*time.Hour + 59*time.Minute + 59*time.Second, ShiftNight},
}

// ShiftAt returns the time-of-day shift for t, evaluated in BusZone.
// The bool is false when t falls outside every window.
func ShiftAt(t time.Time) (Shift, bool) {
	tod := timeOfDay(t.In(BusZone))
	for _, w := range shiftTable {
		if tod >= w.start && tod < w.end {
			return w.shift, true
		}
	}
	return ShiftNone, false
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}

// RGB is a colour triple.
type RGB [3]int

// ShiftColors holds the branding colours of a shift.
type ShiftColors struct {
	Primary   RGB
	Secondary RGB
	Tertiary  RGB
}

var shiftColors = map[Shift]ShiftColors{
	ShiftDawn:  {RGB{239, 130, 34}, RGB{192, 106, 41}, RGB{236, 227, 58}},
	ShiftAlpha: {RGB{188, 37, 41}, RGB{116, 18, 20}, RGB{188, 37, 41}},
	ShiftNight: {RGB{9, 114, 186}, RGB{36, 34, 98}, RGB{34, 171, 226}},
	ShiftZeta:  {RGB{94, 55, 137}, RGB{145, 100, 171}, RGB{94, 55, 137}},
	ShiftOmega: {RGB{117, 204, 214}, RGB{229, 160, 43}, RGB{115, 116, 116}},
}

// ColorsFor returns the colours of s. ok is false for ShiftNone.
func ColorsFor(s Shift) (ShiftColors, bool) {
	c, ok := shiftColors[s]
	return c, ok
}
