// Package displaytest provides a manual clock and a recording renderer for
// driving display components deterministically in tests.
package displaytest

import (
	"image"
	"sort"
	"time"

	"github.com/loqalabs/loqa-sign/internal/display"
)

// Clock is a display.Scheduler whose time only moves when Advance is called.
// It is not safe for concurrent use, matching the single foreground context.
type Clock struct {
	now   time.Duration
	seq   uint64
	tasks []*task
}

type task struct {
	at      time.Duration
	seq     uint64
	fn      func()
	stopped bool
}

func (t *task) Stop() { t.stopped = true }

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) After(d time.Duration, fn func()) display.Timer {
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &task{at: c.now + d, seq: c.seq, fn: fn}
	c.tasks = append(c.tasks, t)
	return t
}

// Now is the elapsed virtual time.
func (c *Clock) Now() time.Duration {
	return c.now
}

// Advance moves time forward by d, running every callback that falls due in
// deadline order. Callbacks scheduled while advancing run too when they fall
// inside the window.
func (c *Clock) Advance(d time.Duration) {
	end := c.now + d
	for {
		next := c.nextDue(end)
		if next == nil {
			break
		}
		c.now = next.at
		next.stopped = true
		next.fn()
	}
	c.now = end
}

// Pending counts scheduled callbacks that have neither run nor been stopped.
func (c *Clock) Pending() int {
	c.compact()
	return len(c.tasks)
}

func (c *Clock) nextDue(end time.Duration) *task {
	c.compact()
	if len(c.tasks) == 0 {
		return nil
	}
	sort.Slice(c.tasks, func(i, j int) bool {
		if c.tasks[i].at != c.tasks[j].at {
			return c.tasks[i].at < c.tasks[j].at
		}
		return c.tasks[i].seq < c.tasks[j].seq
	})
	if c.tasks[0].at > end {
		return nil
	}
	return c.tasks[0]
}

func (c *Clock) compact() {
	live := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(c.tasks); i++ {
		c.tasks[i] = nil
	}
	c.tasks = live
}

// Update is one call observed by Recorder.
type Update struct {
	At    time.Duration
	Frame image.Image
	Text  string
}

// IsText reports whether the update replaced the viewport with text.
func (u Update) IsText() bool { return u.Frame == nil }

// Recorder is a display.Renderer that keeps every update. When Clock is set
// each update is stamped with the virtual time it happened at.
type Recorder struct {
	Clock   *Clock
	Updates []Update
}

func (r *Recorder) ShowFrame(img image.Image) {
	r.Updates = append(r.Updates, Update{At: r.now(), Frame: img})
}

func (r *Recorder) ShowText(text string) {
	r.Updates = append(r.Updates, Update{At: r.now(), Text: text})
}

// Last returns the most recent update, or the zero Update.
func (r *Recorder) Last() Update {
	if len(r.Updates) == 0 {
		return Update{}
	}
	return r.Updates[len(r.Updates)-1]
}

// Reset forgets recorded updates.
func (r *Recorder) Reset() {
	r.Updates = nil
}

func (r *Recorder) now() time.Duration {
	if r.Clock == nil {
		return 0
	}
	return r.Clock.Now()
}

// Frame returns a 1x1 image tagged with id in its red channel so tests can
// tell frames apart after they have been rendered.
func Frame(id uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Pix[0] = id
	img.Pix[3] = 0xff
	return img
}

// FrameID reads back the tag written by Frame.
func FrameID(img image.Image) uint8 {
	if rgba, ok := img.(*image.RGBA); ok && len(rgba.Pix) > 0 {
		return rgba.Pix[0]
	}
	return 0
}

var _ display.Scheduler = (*Clock)(nil)
var _ display.Renderer = (*Recorder)(nil)
