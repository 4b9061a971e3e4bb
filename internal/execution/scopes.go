package execution

import (
	"github.com/roach88/airvm/internal/air"
)

// frame is one scope. A general frame is opened per fold iteration; a
// restricted frame is opened by new and owns exactly one name.
type frame struct {
	restricts string
	scalars   map[string]ValueAggregate
	canons    map[string]*CanonStream
	stream    *Stream
}

func newFrame(restricts string) *frame {
	return &frame{
		restricts: restricts,
		scalars:   make(map[string]ValueAggregate),
		canons:    make(map[string]*CanonStream),
	}
}

func (f *frame) has(key string) bool {
	if _, ok := f.scalars[key]; ok {
		return true
	}
	_, ok := f.canons[key]
	return ok
}

// scopes is the frame stack. The root frame is general and never popped.
type scopes struct {
	frames []*frame
}

func newScopes() *scopes {
	return &scopes{frames: []*frame{newFrame("")}}
}

func (s *scopes) push(f *frame) { s.frames = append(s.frames, f) }

func (s *scopes) pop() {
	if len(s.frames) > 1 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// target returns the frame a new binding of key goes to: the innermost
// frame restricting key or the innermost general frame, whichever is closer.
func (s *scopes) target(key string) *frame {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.restricts == "" || f.restricts == key {
			return f
		}
	}
	return s.frames[0]
}

// lookup walks outward and stops at a frame restricting key.
func (s *scopes) lookup(key string) (*frame, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if f.has(key) {
			return f, true
		}
		if f.restricts == key {
			return nil, false
		}
	}
	return nil, false
}

func (s *scopes) setScalar(name string, v ValueAggregate) error {
	f := s.target(name)
	if f.has(name) {
		return uncatchable(ShadowingIsNotAllowed, "scalar %s is already set in this scope", name)
	}
	f.scalars[name] = v
	return nil
}

func (s *scopes) scalar(name string) (ValueAggregate, bool) {
	f, ok := s.lookup(name)
	if !ok {
		return ValueAggregate{}, false
	}
	v, ok := f.scalars[name]
	return v, ok
}

func (s *scopes) setCanon(v air.Variable, c *CanonStream) error {
	key := v.Key()
	f := s.target(key)
	if f.has(key) {
		return uncatchable(ShadowingIsNotAllowed, "canon %s is already set in this scope", key)
	}
	f.canons[key] = c
	return nil
}

func (s *scopes) canon(v air.Variable) (*CanonStream, bool) {
	key := v.Key()
	f, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	c, ok := f.canons[key]
	return c, ok
}

// restrictedStream returns the stream owned by the innermost new of key.
// ok is false when key is not restricted in any open scope.
func (s *scopes) restrictedStream(key string) (*Stream, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if f := s.frames[i]; f.restricts == key {
			return f.stream, f.stream != nil
		}
	}
	return nil, false
}
