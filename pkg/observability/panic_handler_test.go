package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "unit")
		panic("kaboom")
	}()

	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), "kaboom")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "unit", func() { called = true })
	}()
	assert.False(t, called, "callback only runs after a panic")

	func() {
		defer RecoverPanicWithCallback(logger, "unit", func() { called = true })
		panic("again")
	}()
	assert.True(t, called)
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(NewLogger(InfoLevel, &bytes.Buffer{}))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("handler") }),
	)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/check", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
