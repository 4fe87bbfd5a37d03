// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package natten

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/natten/window"
)

var aggregateDispatcher = newDTypeDispatcher("Aggregate")

func init() {
	aggregateDispatcher.register(dtypes.Float32, execAggregate[float32])
	aggregateDispatcher.register(dtypes.Float64, execAggregate[float64])
	aggregateDispatcher.register(dtypes.Float16, execAggregateFloat16)
	aggregateDispatcher.register(dtypes.BFloat16, execAggregateBFloat16)
}

// execAggregate is the aggregation kernel for the Go native float types.
//
// The flattened (batch, heads, depth, height, width) coordinate space is
// split into contiguous chunks, one worker per chunk. Workers write only the
// output vectors of their own coordinates, so no synchronization is needed
// beyond joining the chunks.
//
// Within one coordinate the channel loop and the triple window loop run in a
// fixed order, keeping results bit-reproducible across runs: the per-channel
// accumulator is never reassociated.
func execAggregate[T float32 | float64](plan *aggregatePlan, weightsAny, valuesAny, outputAny any) {
	weights := weightsAny.([]T)
	values := valuesAny.([]T)
	output := outputAny.([]T)

	valuesStrides := plan.values.Strides
	kernelSize1, kernelSize2 := plan.kernelSize[1], plan.kernelSize[2]
	dilation := plan.dilation

	pool.For(plan.numCoords, minCoordsPerChunk, func(startCoord, endCoord int) {
		var cw coordWindows
		for flat := startCoord; flat < endCoord; flat++ {
			plan.resolve(flat, &cw)
			for d := 0; d < plan.channels; d++ {
				var acc T
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
							acc += weights[weightsIndex] * values[valuesIndex]
						}
					}
				}
				output[cw.outputBase+d] = acc
			}
		}
	})
}
