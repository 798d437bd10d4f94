package interceptor

import (
	"context"
	"fmt"
	"os"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

var Symbols = stdlib.Symbols

type beforeFn func(operation, table string) error

type afterFn func(operation, table string, err error) error

// Load interprets a Go source file declaring package hooks. The file may
// define either or both of:
//
//	func Before(operation, table string) error
//	func After(operation, table string, err error) error
//
// Load returns nil when the file defines neither.
func Load(filename string) (*Interceptor, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	i := interp.New(interp.Options{})
	if err := i.Use(Symbols); err != nil {
		return nil, err
	}
	_, err = i.Eval(string(src))
	if err != nil {
		return nil, fmt.Errorf("eval %s: %w", filename, err)
	}

	var (
		before beforeFn
		after  afterFn
		ok     bool
	)
	beforeReflect, err := i.Eval("hooks.Before")
	if err == nil {
		before, ok = beforeReflect.Interface().(func(operation, table string) error)
		if !ok {
			return nil, fmt.Errorf("invalid hooks.Before signature")
		}
	}

	afterReflect, err := i.Eval("hooks.After")
	if err == nil {
		after, ok = afterReflect.Interface().(func(operation, table string, err error) error)
		if !ok {
			return nil, fmt.Errorf("invalid hooks.After signature")
		}
	}

	return newInterceptor(before, after), nil
}

func newInterceptor(before beforeFn, after afterFn) *Interceptor {
	if before == nil && after == nil {
		return nil
	}
	if before == nil {
		before = noopBefore
	}
	if after == nil {
		after = noopAfter
	}
	return &Interceptor{
		before: before,
		after:  after,
	}
}

// Interceptor runs script hooks around dispatcher operations.
type Interceptor struct {
	before beforeFn
	after  afterFn
}

func (i *Interceptor) Before(_ context.Context, operation, table string) error {
	return i.before(operation, table)
}

func (i *Interceptor) After(_ context.Context, operation, table string, err error) error {
	return i.after(operation, table, err)
}

func noopBefore(operation, table string) error {
	return nil
}

func noopAfter(operation, table string, err error) error {
	return err
}
