// Package debug provides invariant checks for the node tracker.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "fmt"

// Assert panics when cond is false. A violated node tracker invariant is
// consensus-breaking; unlike aistore's build-tag-gated variant, these
// checks always run — a registry desync must never be swallowed, debug
// build or not.
func Assert(cond bool, a ...interface{}) {
	if cond {
		return
	}
	if len(a) == 0 {
		panic("assertion failed")
	}
	panic(fmt.Sprint(a...))
}

func Assertf(cond bool, f string, a...interface{}) {
	if cond {
		return
	}
	panic(fmt.Sprintf(f, a...))
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func AssertFunc(f func() bool, a...interface{}) {
	Assert(f(), a...)
}
