package keeper

import (
	"fmt"

	"github.com/roach88/airvm/internal/trace"
)

// TraceCorruptedError reports a window that does not fit the trace it is
// laid over.
type TraceCorruptedError struct {
	Msg string
}

func (e *TraceCorruptedError) Error() string {
	return "trace corrupted: " + e.Msg
}

func corrupted(format string, args ...any) error {
	return &TraceCorruptedError{Msg: fmt.Sprintf(format, args...)}
}

// TraceSlider is a cursor over one input trace. Reads are limited to the
// active window, which is the top of a stack of windows pushed by par and
// fold while they replay their subtraces.
type TraceSlider struct {
	trace trace.Trace
	pos   uint32
	ends  []uint32
}

// NewTraceSlider returns a slider whose window is the whole trace.
func NewTraceSlider(tr trace.Trace) *TraceSlider {
	return &TraceSlider{trace: tr, ends: []uint32{uint32(len(tr))}}
}

// NextState returns the state under the cursor and advances it.
// ok is false once the active window is exhausted.
func (s *TraceSlider) NextState() (st trace.State, pos uint32, ok bool) {
	if s.pos >= s.End() || int(s.pos) >= len(s.trace) {
		return nil, 0, false
	}
	pos = s.pos
	s.pos++
	return s.trace[pos], pos, true
}

// Position returns the cursor position.
func (s *TraceSlider) Position() uint32 { return s.pos }

// End returns the end of the active window.
func (s *TraceSlider) End() uint32 { return s.ends[len(s.ends)-1] }

// SubtraceLen returns how many states remain in the active window.
func (s *TraceSlider) SubtraceLen() uint32 {
	if s.pos >= s.End() {
		return 0
	}
	return s.End() - s.pos
}

// TraceLen returns the length of the whole trace.
func (s *TraceSlider) TraceLen() uint32 { return uint32(len(s.trace)) }

// Trace returns the underlying trace.
func (s *TraceSlider) Trace() trace.Trace { return s.trace }

func (s *TraceSlider) check(pos, n uint32) error {
	if uint64(pos)+uint64(n) > uint64(len(s.trace)) {
		return corrupted("window [%d, %d) crosses trace length %d", pos, uint64(pos)+uint64(n), len(s.trace))
	}
	return nil
}

// SetPositionAndLen moves the cursor to pos and resizes the active window
// to n states.
func (s *TraceSlider) SetPositionAndLen(pos, n uint32) error {
	if err := s.check(pos, n); err != nil {
		return err
	}
	s.pos = pos
	s.ends[len(s.ends)-1] = pos + n
	return nil
}

// SetSubtraceLen resizes the active window to n states from the cursor.
func (s *TraceSlider) SetSubtraceLen(n uint32) error {
	if err := s.check(s.pos, n); err != nil {
		return err
	}
	s.ends[len(s.ends)-1] = s.pos + n
	return nil
}

// PushWindow opens a window of n states at pos and returns its depth.
func (s *TraceSlider) PushWindow(pos, n uint32) (int, error) {
	if err := s.check(pos, n); err != nil {
		return 0, err
	}
	s.pos = pos
	s.ends = append(s.ends, pos+n)
	return len(s.ends) - 1, nil
}

// PopWindow closes the active window. The cursor is left where it is.
func (s *TraceSlider) PopWindow() {
	if len(s.ends) > 1 {
		s.ends = s.ends[:len(s.ends)-1]
	}
}

// Depth returns the depth of the active window.
func (s *TraceSlider) Depth() int { return len(s.ends) - 1 }

// Rewindow replaces the window at depth with [pos, pos+n) and moves the
// cursor to pos. Windows above depth keep their ends.
func (s *TraceSlider) Rewindow(depth int, pos, n uint32) error {
	if err := s.check(pos, n); err != nil {
		return err
	}
	if depth <= 0 || depth >= len(s.ends) {
		return corrupted("no window at depth %d", depth)
	}
	s.ends[depth] = pos + n
	s.pos = pos
	return nil
}

// Seek moves the cursor to pos, which must not pass the active window.
func (s *TraceSlider) Seek(pos uint32) error {
	if pos > s.End() {
		return corrupted("position %d is past the window end %d", pos, s.End())
	}
	s.pos = pos
	return nil
}
