// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package natten

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/gomlx/natten/window"
)

// Half-precision instances of the aggregation kernel.
//
// Arithmetic happens in float32, but every multiply and every add rounds
// back to the half type before the next operation: the accumulator stays in
// the input precision, it is never widened. This matches scalar
// half-precision accumulation, where each += rounds to the storage type.

func execAggregateFloat16(plan *aggregatePlan, weightsAny, valuesAny, outputAny any) {
	weights := weightsAny.([]float16.Float16)
	values := valuesAny.([]float16.Float16)
	output := outputAny.([]float16.Float16)

	valuesStrides := plan.values.Strides
	kernelSize1, kernelSize2 := plan.kernelSize[1], plan.kernelSize[2]
	dilation := plan.dilation

	pool.For(plan.numCoords, minCoordsPerChunk, func(startCoord, endCoord int) {
		var cw coordWindows
		for flat := startCoord; flat < endCoord; flat++ {
			plan.resolve(flat, &cw)
			for d := 0; d < plan.channels; d++ {
				acc := float16.Fromfloat32(0)
				channelBase := cw.valuesBase + d
				for x0 := cw.start[0]; x0 < cw.end[0]; x0 += dilation[0] {
					sample0 := (x0 - cw.start[0]) / dilation[0]
					valuesOffset0 := channelBase + x0*valuesStrides[2]
					for x1 := cw.start[1]; x1 < cw.end[1]; x1 += dilation[1] {
						sample1 := (x1 - cw.start[1]) / dilation[1]
						valuesOffset1 := valuesOffset0 + x1*valuesStrides[3]
						for x2 := cw.start[2]; x2 < cw.end[2]; x2 += dilation[2] {
							sample2 := (x2 - cw.start[2]) / dilation[2]
							weightsIndex := cw.weightsBase +
								window.WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2)
							valuesIndex := valuesOffset1 + x2*valuesStrides[4]
							product := float16.Fromfloat32(weights[weightsIndex].Float32() * values[valuesIndex].Float32())
							acc = float16.Fromfloat32(acc.Float32() + product.Float32())
						}
					}
				}
				output[cw.outputBase+d] = acc
			}
		}
	})
}

func execAggregateBFloat16(plan *aggregatePlan, weightsAny, valuesAny, outputAny any) {
	weights := weightsAny.([]bfloat16.BFloat16)
	values := valuesAny.([]bfloat16.BFloat16)
	output := outputAny.([]bfloat16.BFloat16)

	valuesStrides := plan.values.Strides
	kernelSize1, kernelSize2 := plan.kernelSize[1], plan.kernelSize[2]
	dilation := plan.dilation

	pool.For(plan.numCoords, minCoordsPerChunk, func(startCoord, endCoord int) {
		var cw coordWindows
		for flat := startCoord; flat < endCoord; flat++ {
			plan.resolve(flat, &cw)
			for d := 0; d < plan.channels; d++ {
				acc := bfloat16.FromFloat32(0)
				channelBase := cw.valuesBase + d
				for x0 := cw.start[0]; x0 < cw.end[0]; x0 += dilation[0] {
					sample0 := (x0 - cw.start[0]) / dilation[0]
					valuesOffset0 := channelBase + x0*valuesStrides[2]
					for x1 := cw.start[1]; x1 < cw.end[1]; x1 += dilation[1] {
						sample1 := (x1 - cw.start[1]) / dilation[1]
						valuesOffset1 := valuesOffset0 + x1*valuesStrides[3]
						for x2 := cw.start[2]; x2 < cw.end[2]; x2 += dilation[2] {
							sample2 := (x2 - cw.start[2]) / dilation[2]
							weightsIndex := cw.weightsBase +
								window.WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2)
							valuesIndex := valuesOffset1 + x2*valuesStrides[4]
							product := bfloat16.FromFloat32(weights[weightsIndex].Float32() * values[valuesIndex].Float32())
							acc = bfloat16.FromFloat32(acc.Float32() + product.Float32())
						}
					}
				}
				output[cw.outputBase+d] = acc
			}
		}
	})
}
