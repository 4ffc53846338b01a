package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

var errTransport = errors.New("connection refused")
var errRemote = errors.New("remote said no")

func TestBreakerTripsAfterFailureRatio(t *testing.T) {
	cb := New(Config{Name: "test", Timeout: time.Minute})

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errTransport })
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	_, err := cb.Execute(func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestIsSuccessfulIgnoresRemoteRejections(t *testing.T) {
	cb := New(Config{
		Name:         "test",
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errRemote) },
	})

	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errRemote })
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestSetReturnsSameBreakerPerName(t *testing.T) {
	s := NewSet(Config{Name: "relay"})

	a := s.Get("bob.os")
	assert.Same(t, a, s.Get("bob.os"))
	assert.NotSame(t, a, s.Get("carol.os"))
	assert.Equal(t, "relay:bob.os", a.Name())
	assert.Equal(t, map[string]string{"bob.os": "closed", "carol.os": "closed"}, s.States())
}
