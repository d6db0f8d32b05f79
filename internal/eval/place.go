package eval

import (
	"errors"
	"fmt"
	"strings"

	"mqlbt/internal/value"
)

var (
	// ErrNullPointer is returned when a field is reached through NULL or a
	// deleted object.
	ErrNullPointer = errors.New("invalid pointer access")
	// ErrNotArray is returned when indexing a non-array value.
	ErrNotArray = errors.New("value is not an array")
	// ErrNoField is returned for an unknown member name.
	ErrNoField = errors.New("unknown member")
)

// Step is one element of a place path: an array index or a field name.
type Step struct {
	Field   string
	Index   int64
	IsIndex bool
}

// Place is an assignable location: a root variable plus an index/field
// path. Every read and write of script state goes through Load and Store.
type Place struct {
	Name string
	Root *value.Var
	Path []Step
}

var _ value.Ref = (*Place)(nil)

// NewPlace returns a place for the variable itself.
func NewPlace(name string, root *value.Var) *Place {
	return &Place{Name: name, Root: root}
}

// With returns a copy of p extended by s.
func (p *Place) With(s Step) *Place {
	path := make([]Step, len(p.Path), len(p.Path)+1)
	copy(path, p.Path)
	return &Place{Name: p.Name, Root: p.Root, Path: append(path, s)}
}

func (p *Place) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, s := range p.Path {
		if s.IsIndex {
			fmt.Fprintf(&b, "[%d]", s.Index)
		} else {
			b.WriteString("." + s.Field)
		}
	}
	return b.String()
}

func follow(cur value.Value, s Step) (value.Value, error) {
	if s.IsIndex {
		arr := cur.Array()
		if arr == nil {
			return value.Unset, ErrNotArray
		}
		return arr.Get(s.Index)
	}
	f, err := field(cur, s.Field)
	if err != nil {
		return value.Unset, err
	}
	return f.Load()
}

func field(cur value.Value, name string) (*value.Var, error) {
	obj := cur.Object()
	if obj == nil || obj.Deleted {
		return nil, ErrNullPointer
	}
	f, ok := obj.Fields[name]
	if !ok {
		return nil, fmt.Errorf("%w %s in %s", ErrNoField, name, obj.Class)
	}
	return f, nil
}

func (p *Place) walk(steps []Step) (value.Value, error) {
	cur, err := p.Root.Load()
	if err != nil {
		return value.Unset, err
	}
	for _, s := range steps {
		if cur, err = follow(cur, s); err != nil {
			return value.Unset, fmt.Errorf("%s: %w", p, err)
		}
	}
	return cur, nil
}

// Load reads the current value at the place.
func (p *Place) Load() (value.Value, error) {
	return p.walk(p.Path)
}

// Store writes x at the place, converting it to the destination type.
func (p *Place) Store(x value.Value) error {
	if len(p.Path) == 0 {
		return p.Root.Store(x)
	}
	container, err := p.walk(p.Path[:len(p.Path)-1])
	if err != nil {
		return err
	}
	last := p.Path[len(p.Path)-1]
	if last.IsIndex {
		arr := container.Array()
		if arr == nil {
			return fmt.Errorf("%s: %w", p, ErrNotArray)
		}
		if err := arr.Set(last.Index, x); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	}
	f, err := field(container, last.Field)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return f.Store(x)
}

// Type returns the declared type of the location.
func (p *Place) Type() value.Type {
	t := p.Root.Type
	if len(p.Path) == 0 {
		return t
	}
	container, err := p.walk(p.Path[:len(p.Path)-1])
	if err != nil {
		return value.Type{Any: true}
	}
	last := p.Path[len(p.Path)-1]
	if last.IsIndex {
		if arr := container.Array(); arr != nil {
			return arr.Elem
		}
		return value.Type{Any: true}
	}
	if f, err := field(container, last.Field); err == nil {
		return f.Type
	}
	return value.Type{Any: true}
}
