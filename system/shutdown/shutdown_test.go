package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSafer struct{ calls int }

func (f *fakeSafer) Shutdown() { f.calls++ }

func captureExit(t *testing.T) *int {
	code := -1
	prev := ExitFunc
	ExitFunc = func(c int) { code = c }
	t.Cleanup(func() { ExitFunc = prev })
	return &code
}

func TestShutdown(t *testing.T) {
	code := captureExit(t)
	s := &fakeSafer{}

	Shutdown(s)

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 0, *code)
}

func TestShutdownWithError(t *testing.T) {
	code := captureExit(t)
	s := &fakeSafer{}

	ShutdownWithError(s, errors.New("listen tcp :80: bind: permission denied"), "API server failed")

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 1, *code)
}

func TestShutdown_NoController(t *testing.T) {
	code := captureExit(t)
	Shutdown(nil)
	assert.Equal(t, 0, *code)
}
