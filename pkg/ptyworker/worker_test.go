package ptyworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/types"
)

func TestNew_SpawnsAndInjectIsVerifiable(t *testing.T) {
	spec := types.WorkerSpec{Name: "W1", CLI: types.CLIOther, Cwd: "."}

	w, err := New(spec, "/bin/cat", nil, Callbacks{})
	require.NoError(t, err)
	w.Start()
	defer w.Release(time.Second)

	formatted := FormatInjection("Lead", "sdk_1", "ping")
	require.NoError(t, w.Inject(formatted))

	require.Eventually(t, func() bool {
		return w.VerifyBuffer().Contains(formatted)
	}, 2*time.Second, 10*time.Millisecond, "cat should echo the injected text back")
}

func TestRelease_IsIdempotent(t *testing.T) {
	spec := types.WorkerSpec{Name: "W2", CLI: types.CLIOther, Cwd: "."}
	w, err := New(spec, "/bin/cat", nil, Callbacks{})
	require.NoError(t, err)
	w.Start()

	require.NoError(t, w.Release(time.Second))
	require.NoError(t, w.Release(time.Second))
}

func TestWriteRaw_FailsAfterRelease(t *testing.T) {
	spec := types.WorkerSpec{Name: "W3", CLI: types.CLIOther, Cwd: "."}
	w, err := New(spec, "/bin/cat", nil, Callbacks{})
	require.NoError(t, err)
	w.Start()

	require.NoError(t, w.Release(time.Second))
	assert.Error(t, w.WriteRaw([]byte("x")))
}

func TestOnExit_FiresWhenChildExits(t *testing.T) {
	exited := make(chan struct{})
	var gotCode int
	spec := types.WorkerSpec{Name: "W4", CLI: types.CLIOther, Cwd: "."}

	w, err := New(spec, "/bin/sh", nil, Callbacks{
		OnExit: func(name string, exitCode int, signal string) {
			gotCode = exitCode
			close(exited)
		},
	})
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.Inject("exit 7\n"))

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("OnExit callback did not fire")
	}
	assert.Equal(t, 7, gotCode, "exit code should come from the reaped ProcessState, not the -1 default")
}

func TestRelease_ReapsWithoutDoubleWaitPanic(t *testing.T) {
	spec := types.WorkerSpec{Name: "W6", CLI: types.CLIOther, Cwd: "."}
	w, err := New(spec, "/bin/sh", nil, Callbacks{})
	require.NoError(t, err)
	w.Start()

	// Exit the child ourselves so the read loop's handleExit and
	// Release's own wait race for the same process; neither should
	// panic from calling cmd.Wait twice.
	require.NoError(t, w.Inject("exit 0\n"))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Release(time.Second))
}

func TestSetModel_UpdatesBookkeeping(t *testing.T) {
	spec := types.WorkerSpec{Name: "W5", CLI: types.CLIOther, Cwd: ".", Model: "base"}
	w, err := New(spec, "/bin/cat", nil, Callbacks{})
	require.NoError(t, err)
	w.Start()
	defer w.Release(time.Second)

	assert.Equal(t, "base", w.Model())
	w.SetModel("pro")
	assert.Equal(t, "pro", w.Model())
}
