package eventbus

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/etx-ingest/pkg/logging"
)

type published struct{ key string }

type failed struct{ key string }

type outcome interface{ Key() string }

func (p *published) Key() string { return p.key }
func (f *failed) Key() string    { return f.key }

func TestBus_NoMatchingSubscribersIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.WarnLevel)

	b := New(log)
	b.Subscribe(func(*failed) { t.Error("should not be called") })
	b.Publish(&published{key: "a"})

	assert.True(t, strings.Contains(buf.String(), "eventbus.Publish: no matching subscribers"), buf.String())
}

func TestBus_DispatchByConcreteAndInterfaceType(t *testing.T) {
	b := New(logging.Nop())
	var concrete, viaInterface []string
	b.Subscribe(func(e *published) { concrete = append(concrete, e.key) })
	b.Subscribe(func(e outcome) { viaInterface = append(viaInterface, e.Key()) })

	b.Publish(&published{key: "a"})
	b.Publish(&failed{key: "b"})

	assert.Equal(t, []string{"a"}, concrete)
	assert.Equal(t, []string{"a", "b"}, viaInterface)
}

func TestBus_PanicIsRecovered(t *testing.T) {
	b := New(logging.Nop())
	called := false
	b.Subscribe(func(*published) { panic("boom") })
	b.Subscribe(func(*published) { called = true })

	require.NotPanics(t, func() { b.Publish(&published{}) })
	assert.True(t, called)

	err := b.PublishE(&published{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestBus_PublishEJoinsErrors(t *testing.T) {
	b := New(logging.Nop())
	errA := errors.New("a")
	b.Subscribe(func(*published) error { return errA })
	b.Subscribe(func(*published) error { return nil })
	b.Subscribe(func(*published) (int, error) { return 0, nil })

	err := b.PublishE(&published{})
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, ErrInvalidHandlerReturn)

	require.ErrorIs(t, New(logging.Nop()).PublishE(&published{}), ErrNoSubscribers)
}

func TestBus_NilArgument(t *testing.T) {
	b := New(logging.Nop())
	var got *published = &published{key: "x"}
	b.Subscribe(func(e *published) { got = e })
	require.NoError(t, b.PublishE(nil))
	assert.Nil(t, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(logging.Nop())
	n := 0
	stop := b.Subscribe(func(*published) { n++ })
	b.Subscribe(func(*failed) {})
	require.Equal(t, 2, b.SubscribersCount())

	b.Publish(&published{})
	stop()
	stop()
	b.Publish(&published{})

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, b.SubscribersCount())
	assert.Panics(t, func() { b.Subscribe("not a func") })
}
