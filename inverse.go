// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package natten

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/gomlx/natten/window"
)

var inverseDispatcher = newDTypeDispatcher("InverseAggregate")

func init() {
	inverseDispatcher.register(dtypes.Float32, execInverse[float32])
	inverseDispatcher.register(dtypes.Float64, execInverse[float64])
	inverseDispatcher.register(dtypes.Float16, execInverseFloat16)
	inverseDispatcher.register(dtypes.BFloat16, execInverseBFloat16)
}

// inverseCandidates caches, per value coordinate and per axis, the query
// positions whose windows sample the coordinate and the sample ordinal at
// which they do. At most kernelSize queries per axis can reference a
// position, so the slices are allocated once per worker chunk and reused.
type inverseCandidates struct {
	queries [3][]int
	samples [3][]int
}

func (plan *aggregatePlan) newInverseCandidates() *inverseCandidates {
	var cand inverseCandidates
	for axis := range 3 {
		cand.queries[axis] = make([]int, 0, plan.kernelSize[axis])
		cand.samples[axis] = make([]int, 0, plan.kernelSize[axis])
	}
	return &cand
}

// gather fills cand with the windows referencing position pos, one axis at a
// time. Only queries congruent to pos modulo the dilation can sample it, and
// they lie within (kernelSize-1)*dilation of it (only at or above it on
// causal axes), so the scan is bounded by the kernel size.
func (plan *aggregatePlan) gather(pos [3]int, cand *inverseCandidates) {
	for axis := range 3 {
		kernelSize := plan.kernelSize[axis]
		dilation := plan.dilation[axis]
		extent := plan.extents[axis]
		radius := plan.radius[axis]
		causal := plan.isCausal[axis]

		cand.queries[axis] = cand.queries[axis][:0]
		cand.samples[axis] = cand.samples[axis][:0]
		firstOffset := -(kernelSize - 1)
		if causal {
			firstOffset = 0
		}
		for offset := firstOffset; offset < kernelSize; offset++ {
			query := pos[axis] + offset*dilation
			if query < 0 || query >= extent {
				continue
			}
			sample, ok := window.Locate(query, pos[axis], extent, kernelSize, radius, dilation, causal)
			if !ok {
				continue
			}
			cand.queries[axis] = append(cand.queries[axis], query)
			cand.samples[axis] = append(cand.samples[axis], sample)
		}
	}
}

// execInverse accumulates, for every value coordinate, the gradient
// contributions of every window that sampled it. Like the forward kernel it
// partitions the flat coordinate space into write-disjoint chunks, here over
// the valuesGrad tensor.
func execInverse[T float32 | float64](plan *aggregatePlan, weightsAny, outputGradAny, valuesGradAny any) {
	weights := weightsAny.([]T)
	outputGrad := outputGradAny.([]T)
	valuesGrad := valuesGradAny.([]T)

	weightsStrides := plan.weights.Strides
	valuesStrides := plan.values.Strides
	kernelSize1, kernelSize2 := plan.kernelSize[1], plan.kernelSize[2]

	pool.For(plan.numCoords, minCoordsPerChunk, func(startCoord, endCoord int) {
		var cw coordWindows
		cand := plan.newInverseCandidates()
		for flat := startCoord; flat < endCoord; flat++ {
			plan.decompose(flat, &cw)
			plan.gather(cw.pos, cand)
			weightsBH := plan.weights.Offset(cw.batch, cw.head)
			for d := 0; d < plan.channels; d++ {
				var acc T
				channelBase := cw.valuesBase + d
				for c0, q0 := range cand.queries[0] {
					sample0 := cand.samples[0][c0]
					weightsOffset0 := weightsBH + q0*weightsStrides[2]
					gradOffset0 := channelBase + q0*valuesStrides[2]
					for c1, q1 := range cand.queries[1] {
						sample1 := cand.samples[1][c1]
						weightsOffset1 := weightsOffset0 + q1*weightsStrides[3]
						gradOffset1 := gradOffset0 + q1*valuesStrides[3]
						for c2, q2 := range cand.queries[2] {
							sample2 := cand.samples[2][c2]
							weightsIndex := weightsOffset1 + q2*weightsStrides[4] +
								window.WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2)
							gradIndex := gradOffset1 + q2*valuesStrides[4]
							acc += weights[weightsIndex] * outputGrad[gradIndex]
						}
					}
				}
				valuesGrad[cw.outputBase+d] = acc
			}
		}
	})
}

func execInverseFloat16(plan *aggregatePlan, weightsAny, outputGradAny, valuesGradAny any) {
	weights := weightsAny.([]float16.Float16)
	outputGrad := outputGradAny.([]float16.Float16)
	valuesGrad := valuesGradAny.([]float16.Float16)

	weightsStrides := plan.weights.Strides
	valuesStrides := plan.values.Strides
	kernelSize1, kernelSize2 := plan.kernelSize[1], plan.kernelSize[2]

	pool.For(plan.numCoords, minCoordsPerChunk, func(startCoord, endCoord int) {
		var cw coordWindows
		cand := plan.newInverseCandidates()
		for flat := startCoord; flat < endCoord; flat++ {
			plan.decompose(flat, &cw)
			plan.gather(cw.pos, cand)
			weightsBH := plan.weights.Offset(cw.batch, cw.head)
			for d := 0; d < plan.channels; d++ {
				acc := float16.Fromfloat32(0)
				channelBase := cw.valuesBase + d
				for c0, q0 := range cand.queries[0] {
					sample0 := cand.samples[0][c0]
					weightsOffset0 := weightsBH + q0*weightsStrides[2]
					gradOffset0 := channelBase + q0*valuesStrides[2]
					for c1, q1 := range cand.queries[1] {
						sample1 := cand.samples[1][c1]
						weightsOffset1 := weightsOffset0 + q1*weightsStrides[3]
						gradOffset1 := gradOffset0 + q1*valuesStrides[3]
						for c2, q2 := range cand.queries[2] {
							sample2 := cand.samples[2][c2]
							weightsIndex := weightsOffset1 + q2*weightsStrides[4] +
								window.WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2)
							gradIndex := gradOffset1 + q2*valuesStrides[4]
							product := float16.Fromfloat32(weights[weightsIndex].Float32() * outputGrad[gradIndex].Float32())
							acc = float16.Fromfloat32(acc.Float32() + product.Float32())
						}
					}
				}
				valuesGrad[cw.outputBase+d] = acc
			}
		}
	})
}

func execInverseBFloat16(plan *aggregatePlan, weightsAny, outputGradAny, valuesGradAny any) {
	weights := weightsAny.([]bfloat16.BFloat16)
	outputGrad := outputGradAny.([]bfloat16.BFloat16)
	valuesGrad := valuesGradAny.([]bfloat16.BFloat16)

	weightsStrides := plan.weights.Strides
	valuesStrides := plan.values.Strides
	kernelSize1, kernelSize2 := plan.kernelSize[1], plan.kernelSize[2]

	pool.For(plan.numCoords, minCoordsPerChunk, func(startCoord, endCoord int) {
		var cw coordWindows
		cand := plan.newInverseCandidates()
		for flat := startCoord; flat < endCoord; flat++ {
			plan.decompose(flat, &cw)
			plan.gather(cw.pos, cand)
			weightsBH := plan.weights.Offset(cw.batch, cw.head)
			for d := 0; d < plan.channels; d++ {
				acc := bfloat16.FromFloat32(0)
				channelBase := cw.valuesBase + d
				for c0, q0 := range cand.queries[0] {
					sample0 := cand.samples[0][c0]
					weightsOffset0 := weightsBH + q0*weightsStrides[2]
					gradOffset0 := channelBase + q0*valuesStrides[2]
					for c1, q1 := range cand.queries[1] {
						sample1 := cand.samples[1][c1]
						weightsOffset1 := weightsOffset0 + q1*weightsStrides[3]
						gradOffset1 := gradOffset0 + q1*valuesStrides[3]
						for c2, q2 := range cand.queries[2] {
							sample2 := cand.samples[2][c2]
							weightsIndex := weightsOffset1 + q2*weightsStrides[4] +
								window.WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2)
							gradIndex := gradOffset1 + q2*valuesStrides[4]
							product := bfloat16.FromFloat32(weights[weightsIndex].Float32() * outputGrad[gradIndex].Float32())
							acc = bfloat16.FromFloat32(acc.Float32() + product.Float32())
						}
					}
				}
				valuesGrad[cw.outputBase+d] = acc
			}
		}
	})
}
