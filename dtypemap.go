// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package natten

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// kernelFunc is the type of the per-dtype kernel implementations: the
// buffers are flat slices of the dtype's Go type, already validated by the
// calling layer.
type kernelFunc func(plan *aggregatePlan, weights, values, output any)

const maxDTypes = 32

// dtypeDispatcher maps a dtype to the kernel instance registered for it.
// Registration happens at init time, dispatch is a plain array lookup.
type dtypeDispatcher struct {
	name  string
	fnMap [maxDTypes]kernelFunc
}

func newDTypeDispatcher(name string) *dtypeDispatcher {
	return &dtypeDispatcher{name: name}
}

// register a kernel for a dtype. It overwrites any previous registration.
func (d *dtypeDispatcher) register(dtype dtypes.DType, fn kernelFunc) {
	if dtype >= maxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.name)
	}
	d.fnMap[dtype] = fn
}

// dispatch calls the kernel registered for the dtype. It panics if no kernel
// was registered: the public API only forwards supported dtypes, anything
// else is a bug.
func (d *dtypeDispatcher) dispatch(dtype dtypes.DType, plan *aggregatePlan, weights, values, output any) {
	if dtype < 0 || dtype >= maxDTypes || d.fnMap[dtype] == nil {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.name)
	}
	d.fnMap[dtype](plan, weights, values, output)
}
