// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package natten

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
)

// BenchmarkAggregate2D measures the aggregation kernel on 2D problems
// typical of vision models.
func BenchmarkAggregate2D(b *testing.B) {
	sizes := []struct {
		extent, kernelSize, channels int
	}{
		{14, 7, 32},
		{28, 7, 32},
		{56, 7, 32},
		{56, 13, 32},
	}
	for _, size := range sizes {
		name := fmt.Sprintf("%dx%d-k%d-c%d", size.extent, size.extent, size.kernelSize, size.channels)
		p := NewParams2D(1, 4, size.extent, size.extent, size.channels, size.kernelSize, 1, false)
		numCoords := p.BatchSize * p.NumHeads * p.Depth * p.Height * p.Width

		b.Run(name+"/float32", func(b *testing.B) {
			rng := rand.New(rand.NewSource(1))
			weights := make([]float32, numCoords*p.KernelVolume())
			values := make([]float32, numCoords*p.Channels)
			output := make([]float32, numCoords*p.Channels)
			fillRandom(rng, weights, 1)
			fillRandom(rng, values, 1)
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := Aggregate(weights, values, output, p); err != nil {
					b.Fatalf("Aggregate failed: %v", err)
				}
			}
		})

		b.Run(name+"/bfloat16", func(b *testing.B) {
			rng := rand.New(rand.NewSource(1))
			weights := make([]bfloat16.BFloat16, numCoords*p.KernelVolume())
			values := make([]bfloat16.BFloat16, numCoords*p.Channels)
			output := make([]bfloat16.BFloat16, numCoords*p.Channels)
			for i := range weights {
				weights[i] = bfloat16.FromFloat32(rng.Float32())
			}
			for i := range values {
				values[i] = bfloat16.FromFloat32(rng.Float32())
			}
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := Aggregate(weights, values, output, p); err != nil {
					b.Fatalf("Aggregate failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkAggregate3D measures the 3D kernel on a video-shaped problem.
func BenchmarkAggregate3D(b *testing.B) {
	p := NewParams3D(1, 4, 8, 28, 28, 32, 5, 1, false)
	numCoords := p.BatchSize * p.NumHeads * p.Depth * p.Height * p.Width
	rng := rand.New(rand.NewSource(1))
	weights := make([]float32, numCoords*p.KernelVolume())
	values := make([]float32, numCoords*p.Channels)
	output := make([]float32, numCoords*p.Channels)
	fillRandom(rng, weights, 1)
	fillRandom(rng, values, 1)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := Aggregate(weights, values, output, p); err != nil {
			b.Fatalf("Aggregate failed: %v", err)
		}
	}
}

// BenchmarkInverseAggregate2D measures the gradient kernel.
func BenchmarkInverseAggregate2D(b *testing.B) {
	p := NewParams2D(1, 4, 28, 28, 32, 7, 1, false)
	numCoords := p.BatchSize * p.NumHeads * p.Depth * p.Height * p.Width
	rng := rand.New(rand.NewSource(1))
	weights := make([]float32, numCoords*p.KernelVolume())
	outputGrad := make([]float32, numCoords*p.Channels)
	valuesGrad := make([]float32, numCoords*p.Channels)
	fillRandom(rng, weights, 1)
	fillRandom(rng, outputGrad, 1)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := InverseAggregate(weights, outputGrad, valuesGrad, p); err != nil {
			b.Fatalf("InverseAggregate failed: %v", err)
		}
	}
}
