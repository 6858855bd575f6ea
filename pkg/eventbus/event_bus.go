// Package eventbus dispatches in-process events to handlers chosen by their
// parameter types.
package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoSubscribers        = errors.New("eventbus: no matching subscribers")
	ErrInvalidHandlerReturn = errors.New("eventbus: invalid handler return signature")
)

// Bus delivers events synchronously, in subscription order, to every
// handler whose parameters accept the published arguments.
type Bus interface {
	Publish(args ...any)
	PublishE(args ...any) error
	// Subscribe registers a func handler and returns a function that
	// removes it.
	Subscribe(handler any) (unsubscribe func())
	SubscribersCount() int
}

type subscriber struct {
	id      uint64
	handler reflect.Value
}

type bus struct {
	log *logrus.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func New(log *logrus.Logger) Bus {
	return &bus{log: log}
}

// MatchSignature reports whether handler can be called with args.
func MatchSignature(handler reflect.Type, args []any) bool {
	if handler.Kind() != reflect.Func || handler.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		param := handler.In(i)
		if arg == nil {
			switch param.Kind() {
			case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice:
				continue
			default:
				return false
			}
		}
		if !reflect.TypeOf(arg).AssignableTo(param) {
			return false
		}
	}
	return true
}

func callArgs(handler reflect.Type, args []any) []reflect.Value {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(handler.In(i))
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}
	return in
}

func (b *bus) matching(args []any) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []subscriber
	for _, s := range b.subs {
		if MatchSignature(s.handler.Type(), args) {
			out = append(out, s)
		}
	}
	return out
}

// Publish calls every matching handler. Panics are recovered and logged;
// returned errors are ignored.
func (b *bus) Publish(args ...any) {
	subs := b.matching(args)
	if len(subs) == 0 {
		if b.log != nil {
			b.log.Warnf("eventbus.Publish: no matching subscribers for event with args: %v", args)
		}
		return
	}
	for _, s := range subs {
		if _, err := b.call(s, args); err != nil && b.log != nil {
			b.log.Error(err)
		}
	}
}

// PublishE is Publish that reports handler errors and panics, joined.
func (b *bus) PublishE(args ...any) error {
	subs := b.matching(args)
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	var errs []error
	for _, s := range subs {
		out, err := b.call(s, args)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := handlerError(s.handler.Type(), out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *bus) call(s subscriber, args []any) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked with args %v: %v", s.handler.Type(), args, r)
		}
	}()
	return s.handler.Call(callArgs(s.handler.Type(), args)), nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func handlerError(t reflect.Type, out []reflect.Value) error {
	switch {
	case len(out) == 0:
		return nil
	case len(out) > 1:
		return fmt.Errorf("%w: handler %s returned %d values", ErrInvalidHandlerReturn, t, len(out))
	case out[0].Type() != errorType:
		return fmt.Errorf("%w: handler %s return type is %s", ErrInvalidHandlerReturn, t, out[0].Type())
	case out[0].IsNil():
		return nil
	default:
		return out[0].Interface().(error)
	}
}

func (b *bus) Subscribe(handler any) func() {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		panic("eventbus: handler must be a function")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, handler: v})
	return func() { b.unsubscribe(id) }
}

func (b *bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *bus) SubscribersCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
