package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespacePrefixesSubscribeAndEmit(t *testing.T) {
	b := New()
	ns := b.Namespaced("router")

	var got []string
	ns.Subscribe("message.completed", func(ev Event) error {
		got = append(got, ev.Name)
		return nil
	})

	// The raw bus sees the qualified name.
	assert.Equal(t, 1, b.ListenerCount("router.message.completed"))

	require.NoError(t, ns.Emit(context.Background(), "message.completed", nil))
	assert.Equal(t, []string{"router.message.completed"}, got)
}

func TestNamespaceIsolation(t *testing.T) {
	b := New()
	routerNS := b.Namespaced("router")
	workflowNS := b.Namespaced("workflow")

	calls := 0
	routerNS.Subscribe("started", func(Event) error { calls++; return nil })

	workflowNS.EmitSync("started", nil)
	assert.Equal(t, 0, calls)

	routerNS.EmitSync("started", nil)
	assert.Equal(t, 1, calls)
}

func TestNamespaceWaitFor(t *testing.T) {
	b := New()
	ns := b.Namespaced("wf")

	go func() {
		time.Sleep(5 * time.Millisecond)
		ns.EmitSync("done", "ok")
	}()

	payload, err := ns.WaitFor(context.Background(), "done", time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", payload)
}

func TestNamespaceUnsubscribe(t *testing.T) {
	b := New()
	ns := b.Namespaced("x")

	id := ns.Subscribe("e", func(Event) error { return nil })
	assert.True(t, ns.Unsubscribe("e", id))
	assert.Equal(t, 0, b.ListenerCount("x.e"))
}
