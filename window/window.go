// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package window resolves the per-axis attention windows of neighborhood
// attention.
//
// Every position on an axis attends to a window of at most kernelSize
// positions. Away from the axis boundaries the window is centered on the
// position (or, in causal mode, ends at it); near the boundaries it shifts
// without shrinking, so the sample count stays constant wherever the axis
// is long enough.
//
// With dilation > 1 the window samples only every dilation-th position:
// each position attends within its own dilation group (the positions
// congruent to it modulo dilation), and the centering/shifting logic applies
// to group-local coordinates.
//
// The same functions are meant to be shared by every kernel that produces or
// consumes neighborhood attention weights: the mapping from window samples to
// the flat kernel-volume axis of the weights tensor is positional, so both
// sides must use WeightIndex to agree on it.
//
// All functions are total over valid inputs and perform no validation.
// Callers must guarantee 0 <= pos < extent, dilation >= 1, kernelSize odd,
// and kernelSize*dilation <= extent.
package window

// Start returns the first position (inclusive) of the window for pos along
// one axis. radius must be kernelSize/2.
func Start(pos, extent, kernelSize, radius, dilation int, causal bool) int {
	if causal {
		if dilation <= 1 {
			return max(pos-kernelSize+1, 0)
		}
		return max(pos-(kernelSize-1)*dilation, pos%dilation)
	}
	if dilation <= 1 {
		start := max(pos-radius, 0)
		if pos+radius >= extent {
			// Shift the window down by the overflow, instead of shrinking it.
			start += extent - pos - radius - 1
		}
		return start
	}
	group := pos % dilation
	groupLen := (extent - group + dilation - 1) / dilation
	local := pos / dilation
	localStart := max(local-radius, 0)
	if local+radius >= groupLen {
		localStart += groupLen - local - radius - 1
	}
	return group + localStart*dilation
}

// End returns the limit (exclusive) of the window for pos along one axis.
// start must be the value returned by Start for the same arguments.
func End(pos, start, extent, kernelSize, dilation int, causal bool) int {
	if causal {
		// The position itself is always the most recent sample.
		return pos + 1
	}
	return min(extent, start+kernelSize*dilation)
}

// SampleCount returns how many positions the aggregation visits in
// [start, end) when stepping by dilation. It never exceeds the kernel size
// under the package preconditions.
func SampleCount(start, end, dilation int) int {
	if end <= start {
		return 0
	}
	return (end - start + dilation - 1) / dilation
}

// WeightIndex linearizes the per-axis sample ordinals of a window position
// into the flat kernel-volume axis of the weights tensor, row-major with
// axis 0 slowest and axis 2 fastest.
//
// sampleN is the ordinal of the sampled position along axis N, i.e.
// (x - start) / dilation for that axis.
func WeightIndex(sample0, sample1, sample2, kernelSize1, kernelSize2 int) int {
	return (sample0*kernelSize1+sample1)*kernelSize2 + sample2
}

// Locate answers the transposed query: whether position x is sampled by the
// window of pos, and if so at which sample ordinal. It is used by gradient
// kernels, which iterate over source positions and need to find the windows
// that reference them.
func Locate(pos, x, extent, kernelSize, radius, dilation int, causal bool) (sample int, ok bool) {
	start := Start(pos, extent, kernelSize, radius, dilation, causal)
	end := End(pos, start, extent, kernelSize, dilation, causal)
	if x < start || x >= end || (x-start)%dilation != 0 {
		return 0, false
	}
	return (x - start) / dilation, true
}
