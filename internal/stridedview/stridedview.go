// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stridedview maps N-dimensional logical indices to flat buffer
// offsets through per-axis strides.
//
// It centralizes the offset arithmetic of the aggregation kernels, so index
// validity can be checked in debug builds (build tag "natten_debug") at no
// cost to release builds.
package stridedview

import "github.com/gomlx/exceptions"

// View describes the logical dimensions and element strides of a tensor over
// a flat buffer. It holds no data and performs no allocation.
type View struct {
	Dims    []int
	Strides []int
}

// FromDims creates a view with dense row-major strides, the layout used for
// the values and output tensors (last axis fastest-varying, stride 1).
func FromDims(dims ...int) View {
	strides := make([]int, len(dims))
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= dims[i]
	}
	return View{Dims: dims, Strides: strides}
}

// WithStrides creates a view over caller-supplied strides, one per
// dimension. Used for the weights tensor, whose leading strides are
// arbitrary.
func WithStrides(dims, strides []int) View {
	if debugChecks && len(dims) != len(strides) {
		exceptions.Panicf("stridedview: %d dims but %d strides", len(dims), len(strides))
	}
	return View{Dims: dims, Strides: strides}
}

// Size returns the number of logical elements addressed by the view.
func (v View) Size() int {
	size := 1
	for _, dim := range v.Dims {
		size *= dim
	}
	return size
}

// Offset maps a logical index tuple to a flat buffer offset. Trailing axes
// may be omitted, in which case they are taken as zero.
func (v View) Offset(indices ...int) int {
	if debugChecks {
		v.check(indices)
	}
	offset := 0
	for i, index := range indices {
		offset += index * v.Strides[i]
	}
	return offset
}

func (v View) check(indices []int) {
	if len(indices) > len(v.Dims) {
		exceptions.Panicf("stridedview: %d indices for a %d-dimensional view", len(indices), len(v.Dims))
	}
	for i, index := range indices {
		if index < 0 || index >= v.Dims[i] {
			exceptions.Panicf("stridedview: index %d out of range [0, %d) for axis %d", index, v.Dims[i], i)
		}
	}
}
