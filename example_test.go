package fiberloop_test

import (
	"context"
	"fmt"

	"github.com/joeycumines/fiberloop"
)

// Example demonstrates the basic shape of a program built on fiberloop:
// construct a Loop, spawn fibers with Call, and drive them to completion
// with Run. Two fibers rendezvous on a channel, the producer handing 42
// to the consumer without either side blocking on an OS thread.
func Example() {
	l, err := fiberloop.New()
	if err != nil {
		panic(err)
	}
	defer l.Close()

	ch := l.NewChannel(0)

	l.Call(func(f *fiberloop.Fiber, _ any) {
		if err := l.Give(ch, f, 42); err != nil {
			panic(err)
		}
	})

	l.Call(func(f *fiberloop.Fiber, _ any) {
		fmt.Println(l.Take(ch, f))
	})

	if err := l.Run(context.Background()); err != nil {
		panic(err)
	}

	// Output:
	// 42
}
