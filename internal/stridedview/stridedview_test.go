// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stridedview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromDims(t *testing.T) {
	v := FromDims(2, 3, 4)
	require.Equal(t, []int{12, 4, 1}, v.Strides)
	require.Equal(t, 24, v.Size())

	// Offsets enumerate the buffer in row-major order.
	flat := 0
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				require.Equal(t, flat, v.Offset(i, j, k))
				flat++
			}
		}
	}
}

func TestOffsetPartialIndices(t *testing.T) {
	v := FromDims(2, 3, 4)
	require.Equal(t, 0, v.Offset())
	require.Equal(t, 12, v.Offset(1))
	require.Equal(t, 12+8, v.Offset(1, 2))
}

func TestWithStrides(t *testing.T) {
	// A padded layout: rows of logical width 3 stored 5 elements apart.
	v := WithStrides([]int{4, 3}, []int{5, 1})
	require.Equal(t, 12, v.Size())
	require.Equal(t, 5*2+1, v.Offset(2, 1))
}

func TestScalarView(t *testing.T) {
	v := FromDims()
	require.Equal(t, 1, v.Size())
	require.Equal(t, 0, v.Offset())
}
