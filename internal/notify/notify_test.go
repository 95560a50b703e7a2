package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

type fakeTarget struct {
	name string
	got  []string
}

func (f *fakeTarget) Name() string { return f.name }
func (f *fakeTarget) Send(title, message string) error {
	f.got = append(f.got, title+"|"+message)
	return nil
}

func TestRegistry_SendByName(t *testing.T) {
	fake := &fakeTarget{name: "chat"}
	r := NewRegistry(fake)

	require.NoError(t, r.Send("chat", "Alert", "queue is hot"))
	assert.Equal(t, []string{"Alert|queue is hot"}, fake.got)
}

func TestRegistry_UnknownTarget(t *testing.T) {
	r := NewRegistry()
	err := r.Send("nowhere", "t", "m")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(&fakeTarget{name: "a"})
	r.Add(&fakeTarget{name: "b"})
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())

	r.Remove("a")
	assert.Equal(t, []string{"b"}, r.Names())
}

func TestDefaultRegistry_HasLogAndTerminal(t *testing.T) {
	r := DefaultRegistry(nil)
	names := r.Names()
	assert.Contains(t, names, "log")
	assert.Contains(t, names, "terminal")
}

func TestLogTarget(t *testing.T) {
	l := NewLogTarget(nil)
	assert.Equal(t, "log", l.Name())
	assert.NoError(t, l.Send("title", "message"))
}
