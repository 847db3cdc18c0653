package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *Logger {
	return NewLogger(ErrorLevel, &bytes.Buffer{})
}

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.NotNil(t, sm.logger)
	assert.Equal(t, DefaultShutdownTimeout, sm.shutdownTimeout)

	sm.RegisterShutdownFunc(nil)
	assert.Empty(t, sm.shutdownFuncs)
}

func TestShutdown_RunsEveryFunction(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		sm.RegisterShutdownFunc(func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.EqualValues(t, 5, calls.Load())
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	errA := errors.New("close db")
	errB := errors.New("flush traces")

	sm.RegisterShutdownFunc(func(context.Context) error { return errA })
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(context.Context) error { return errB })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "2 errors")
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), 20*time.Millisecond)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown_RecoversPanics(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)
	sm.RegisterShutdownFunc(func(context.Context) error { panic("boom") })

	assert.NoError(t, sm.Shutdown(context.Background()))
}

func TestShutdown_DrainsServers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ln) }()

	sm := NewShutdownManager(quietLogger(), time.Second, server, nil)
	require.NoError(t, sm.Shutdown(context.Background()))

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWaitForShutdown_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), time.Second)

	var ran atomic.Bool
	sm.RegisterShutdownFunc(func(context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.True(t, ran.Load())
}
