package session

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/protocol"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/trace"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	return NewRegistry(Config{
		Responder:  &stubResponder{replies: map[string]string{"Hello": "Hello there!"}},
		TracesDir:  dir + "/traces",
		ReportsDir: dir + "/reports",
	})
}

func TestRegistryResolveCreatesOnce(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Resolve("A")
	require.NoError(t, err)
	b, err := r.Resolve("A")
	require.NoError(t, err)

	assert.Same(t, a, b, "resolve is the sole creation point")
	assert.Equal(t, StateNew, a.Machine.State())
}

func TestRegistryResolveConcurrentSameID(t *testing.T) {
	r := newTestRegistry(t)

	const n = 16
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := r.Resolve("A")
			require.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestRegistryCloseFinalizesAndRemoves(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Resolve("A")
	require.NoError(t, err)
	require.NoError(t, r.Close("A"))

	_, ok := r.Get("A")
	assert.False(t, ok)
	assert.Equal(t, StateClosed, sess.Machine.State())

	_, err = sess.Recorder.RecordRecv([]byte(`{}`))
	assert.ErrorIs(t, err, trace.ErrAlreadyFinalized)

	require.NoError(t, r.Close("A"), "closing again is a no-op")
	require.NoError(t, r.Close("unknown"))
}

func TestRegistryShutdownClosesAll(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Resolve("A")
	require.NoError(t, err)
	b, err := r.Resolve("B")
	require.NoError(t, err)

	r.Shutdown()

	assert.Equal(t, StateClosed, a.Machine.State())
	assert.Equal(t, StateClosed, b.Machine.State())
}

// Two interleaved sessions never leak commands into each other's trace.
func TestRegistrySessionIsolation(t *testing.T) {
	r := newTestRegistry(t)

	run := func(id string) {
		sess, err := r.Resolve(id)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			payload := `{"type":"recognizeResults","text":"Hello","sessionId":"` + id + `"}`
			ev, decodeErr := protocol.Decode([]byte(payload), time.Now())
			require.NoError(t, decodeErr)

			seq, recErr := sess.Recorder.RecordRecv([]byte(payload))
			require.NoError(t, recErr)

			cmds, handleErr := sess.Machine.Handle(context.Background(), ev)
			require.NoError(t, handleErr)
			for _, cmd := range cmds {
				_, recErr = sess.Recorder.RecordSent(protocol.Encode(cmd), seq)
				require.NoError(t, recErr)
			}
		}
		require.NoError(t, r.Close(id))
	}

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			run(id)
		}(id)
	}
	wg.Wait()

	assertTraceOnlyHas := func(path, id string) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			var rec trace.Record
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			var msg struct {
				SessionID string `json:"sessionId"`
			}
			require.NoError(t, json.Unmarshal(rec.Data, &msg))
			assert.Equal(t, id, msg.SessionID)
		}
	}

	dir := r.cfg.TracesDir
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "A_"):
			assertTraceOnlyHas(dir+"/"+e.Name(), "A")
		case strings.HasPrefix(e.Name(), "B_"):
			assertTraceOnlyHas(dir+"/"+e.Name(), "B")
		}
	}
}
