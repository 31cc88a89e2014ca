package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/convergent-io/convergent/internal/state"
	"github.com/stretchr/testify/require"
)

// fakeKind is a counting in-memory handler used to observe the exact phase
// sequence the runtime drives.
type fakeKind struct {
	mu     sync.Mutex
	phases []string // "<phase>:<id>" in invocation order
	serial int

	// immutable names a prop whose change forces a replace.
	immutable string
	// conflict maps logical ids to the natural key of a pre-existing
	// remote object, making their create phase report a conflict.
	conflict map[string]string
	// remote holds unmanaged remote objects by natural key, for adoption.
	remote map[string]map[string]any

	failCreate error
}

func (f *fakeKind) handler(ctx context.Context, hc *HandlerContext, props map[string]any) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, string(hc.Phase)+":"+hc.ID)

	switch hc.Phase {
	case PhaseCreate:
		if hc.Adopt {
			key := f.conflict[hc.ID]
			out, ok := f.remote[key]
			if !ok {
				return nil, fmt.Errorf("no remote object %q: %w", key, ErrNotFound)
			}
			return Created(out), nil
		}
		if key, ok := f.conflict[hc.ID]; ok {
			if _, exists := f.remote[key]; exists {
				return nil, &ConflictError{NaturalKey: key}
			}
		}
		if f.failCreate != nil {
			return nil, f.failCreate
		}
		f.serial++
		out := map[string]any{"physicalId": fmt.Sprintf("%s#%d", hc.PhysicalName, f.serial)}
		for k, v := range props {
			out[k] = v
		}
		return Created(out), nil

	case PhaseUpdate:
		if f.immutable != "" &&
			fmt.Sprint(props[f.immutable]) != fmt.Sprint(hc.PreviousInputs[f.immutable]) {
			return Replace(), nil
		}
		return Updated(hc.PreviousOutput), nil

	case PhaseDelete:
		return Destroyed(), nil
	}
	return nil, fmt.Errorf("unexpected phase %q", hc.Phase)
}

// count returns how many invocations match a "<phase>:" or "<phase>:<id>" prefix.
func (f *fakeKind) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.phases {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeKind) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.phases...)
}

func (f *fakeKind) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = nil
}

// newTestEngine builds a fresh engine over a file store rooted at dir, with
// the fake handler registered as kind "fake". Engines are per apply, so
// each simulated run builds a new one over the same dir.
func newTestEngine(t *testing.T, dir string, f *fakeKind, mutate ...func(*Options)) *Engine {
	t.Helper()
	st, err := state.NewFileStore(dir)
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register("fake", f.handler)

	opts := Options{
		App:      "app",
		Stage:    "test",
		Store:    st,
		Registry: reg,
		Codec:    state.NewSecretCodec("0123456789abcdef0123456789abcdef"),
	}
	for _, m := range mutate {
		m(&opts)
	}
	eng, err := New(opts)
	require.NoError(t, err)
	return eng
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{App: "app"})
	require.Error(t, err)

	st, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = New(Options{App: "app", Store: st})
	require.Error(t, err)
}
