// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package window

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartEndNonCausal(t *testing.T) {
	// extent=5, kernelSize=3: windows shift near the boundaries but keep
	// width 3 everywhere.
	wantStart := []int{0, 0, 1, 2, 2}
	for pos := 0; pos < 5; pos++ {
		start := Start(pos, 5, 3, 1, 1, false)
		end := End(pos, start, 5, 3, 1, false)
		require.Equal(t, wantStart[pos], start, "start at pos=%d", pos)
		require.Equal(t, wantStart[pos]+3, end, "end at pos=%d", pos)
		require.LessOrEqual(t, start, pos)
		require.Greater(t, end, pos)
	}
}

func TestStartEndCausal(t *testing.T) {
	// extent=5, kernelSize=3: the window always ends at the position, and
	// is clamped (narrower) at the start of the axis.
	wantStart := []int{0, 0, 0, 1, 2}
	for pos := 0; pos < 5; pos++ {
		start := Start(pos, 5, 3, 1, 1, true)
		end := End(pos, start, 5, 3, 1, true)
		require.Equal(t, wantStart[pos], start, "start at pos=%d", pos)
		require.Equal(t, pos+1, end, "end at pos=%d", pos)
	}
}

func TestStartEndDilated(t *testing.T) {
	// extent=9, kernelSize=3, dilation=2, pos=4: samples must be {2, 4, 6}.
	start := Start(4, 9, 3, 1, 2, false)
	end := End(4, start, 9, 3, 2, false)
	require.Equal(t, 2, start)
	require.Equal(t, 8, end)
	var samples []int
	for x := start; x < end; x += 2 {
		samples = append(samples, x)
	}
	require.Equal(t, []int{2, 4, 6}, samples)
}

// sampledPositions enumerates the positions visited in [start, end) under
// the dilation step.
func sampledPositions(start, end, dilation int) []int {
	var samples []int
	for x := start; x < end; x += dilation {
		samples = append(samples, x)
	}
	return samples
}

func TestWindowProperties(t *testing.T) {
	for _, causal := range []bool{false, true} {
		for _, kernelSize := range []int{1, 3, 5} {
			for _, dilation := range []int{1, 2, 3} {
				for extent := kernelSize * dilation; extent <= kernelSize*dilation+7; extent++ {
					name := fmt.Sprintf("causal=%v/k=%d/d=%d/extent=%d", causal, kernelSize, dilation, extent)
					t.Run(name, func(t *testing.T) {
						radius := kernelSize / 2
						for pos := 0; pos < extent; pos++ {
							start := Start(pos, extent, kernelSize, radius, dilation, causal)
							end := End(pos, start, extent, kernelSize, dilation, causal)

							// Containment: the window always includes the position.
							require.LessOrEqual(t, start, pos, "pos=%d", pos)
							require.Greater(t, end, pos, "pos=%d", pos)
							require.GreaterOrEqual(t, start, 0, "pos=%d", pos)
							require.LessOrEqual(t, end, extent, "pos=%d", pos)

							samples := sampledPositions(start, end, dilation)
							require.Equal(t, len(samples), SampleCount(start, end, dilation), "pos=%d", pos)
							require.LessOrEqual(t, len(samples), kernelSize, "pos=%d", pos)
							require.Contains(t, samples, pos, "pos=%d", pos)

							if causal {
								// Never look into the future.
								require.Equal(t, pos, end-1, "pos=%d", pos)
								require.Equal(t, min(kernelSize, pos/dilation+1), len(samples), "pos=%d", pos)
							} else {
								// Constant width everywhere when the kernel fits.
								require.Equal(t, kernelSize, len(samples), "pos=%d", pos)
							}
						}
					})
				}
			}
		}
	}
}

func TestLocate(t *testing.T) {
	const extent = 11
	for _, causal := range []bool{false, true} {
		for _, dilation := range []int{1, 2} {
			kernelSize, radius := 3, 1
			for pos := 0; pos < extent; pos++ {
				start := Start(pos, extent, kernelSize, radius, dilation, causal)
				end := End(pos, start, extent, kernelSize, dilation, causal)
				sampled := map[int]int{} // position -> sample ordinal
				for ordinal, x := range sampledPositions(start, end, dilation) {
					sampled[x] = ordinal
				}
				for x := 0; x < extent; x++ {
					sample, ok := Locate(pos, x, extent, kernelSize, radius, dilation, causal)
					wantOrdinal, wantOk := sampled[x]
					require.Equal(t, wantOk, ok, "causal=%v d=%d pos=%d x=%d", causal, dilation, pos, x)
					if ok {
						require.Equal(t, wantOrdinal, sample, "causal=%v d=%d pos=%d x=%d", causal, dilation, pos, x)
					}
				}
			}
		}
	}
}

func TestWeightIndex(t *testing.T) {
	// The enumeration must be row-major: axis 0 slowest, axis 2 fastest.
	kernelSize0, kernelSize1, kernelSize2 := 3, 5, 7
	counter := 0
	for sample0 := 0; sample0 < kernelSize0; sample0++ {
		for sample1 := 0; sample1 < kernelSize1; sample1++ {
			for sample2 := 0; sample2 < kernelSize2; sample2++ {
				require.Equal(t, counter, WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2))
				counter++
			}
		}
	}
	require.Equal(t, kernelSize0*kernelSize1*kernelSize2, counter)
}

func TestSampleCount(t *testing.T) {
	require.Equal(t, 0, SampleCount(3, 3, 1))
	require.Equal(t, 3, SampleCount(0, 3, 1))
	require.Equal(t, 3, SampleCount(2, 8, 2))
	require.Equal(t, 2, SampleCount(2, 7, 3))
}
