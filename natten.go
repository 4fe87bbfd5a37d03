// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package natten implements CPU kernels for the aggregation step of
// neighborhood (sliding-window) attention: for every position, the output
// vector is the weighted sum of the value vectors inside that position's
// local window. Cost is linear in the number of positions, instead of the
// quadratic cost of full attention.
//
// The kernels are generalized over three spatial axes (depth, height,
// width); 1D and 2D problems collapse to the same kernel by fixing the
// leading extents to 1 (see NewParams1D and NewParams2D).
//
// Two entry points per kernel: a typed generic one (Aggregate,
// InverseAggregate) and a dtype-dispatched one over flat "any" buffers
// (AggregateDType, InverseAggregateDType), for callers that hold buffers
// behind a dtypes.DType.
//
// Supported element types are float32, float64, float16 and bfloat16.
// Accumulation always happens in the input precision: for the half types
// every multiply and add rounds back to the half type, the accumulator is
// never widened, keeping results bit-comparable with other non-widening
// half-precision implementations of the same operation.
//
// The public entry points validate parameters and buffer shapes and return
// an error; the kernels below them are precondition-based and perform no
// checking. All buffers are caller-owned, the kernels allocate no tensor
// memory, keep no state across invocations and are safe to invoke
// concurrently.
package natten

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/natten/internal/stridedview"
	"github.com/gomlx/natten/internal/workers"
	"github.com/gomlx/natten/window"
)

// Scalar are the element types supported by the kernels.
type Scalar interface {
	float32 | float64 | float16.Float16 | bfloat16.BFloat16
}

// pool is the shared parallel execution substrate of all kernels.
var pool = workers.New()

// SetMaxParallelism sets the soft limit of parallel workers used by the
// kernels. 0 disables parallelism, -1 makes it unlimited. The default is
// runtime.NumCPU, overridable with the NATTEN_MAXPARALLELISM environment
// variable.
//
// Only change it while no kernels are running.
func SetMaxParallelism(maxParallelism int) {
	pool.SetMaxParallelism(maxParallelism)
}

// MaxParallelism returns the current soft limit of parallel workers.
func MaxParallelism() int {
	return pool.MaxParallelism()
}

// Params configures one kernel invocation.
//
// The weights tensor has logical shape (BatchSize, NumHeads, Depth, Height,
// Width, kernelVolume) where kernelVolume is the product of the three kernel
// sizes. The values and output tensors have logical shape (BatchSize,
// NumHeads, Depth, Height, Width, Channels) and are always dense row-major,
// channels fastest-varying.
type Params struct {
	BatchSize int
	NumHeads  int

	// Depth, Height and Width are the extents of the three spatial axes
	// (axis 0, 1 and 2). Set leading extents to 1 (with kernel size 1) for
	// 1D or 2D problems.
	Depth, Height, Width int

	Channels int

	// KernelSize per spatial axis. Each must be odd, and
	// KernelSize[axis]*Dilation[axis] must not exceed the axis extent.
	KernelSize [3]int

	// Dilation per spatial axis, >= 1. The window samples every
	// Dilation[axis]-th position.
	Dilation [3]int

	// IsCausal marks axes whose windows may not extend past the position
	// itself.
	IsCausal [3]bool

	// WeightsStrides are the element strides of the five leading axes of the
	// weights tensor, supporting non-contiguous layouts. The kernel-volume
	// axis always has stride 1. Nil means dense row-major.
	WeightsStrides []int
}

// NewParams3D returns dense-layout parameters for a 3D problem with the same
// kernel size, dilation and causal flag on every spatial axis.
func NewParams3D(batchSize, numHeads, depth, height, width, channels, kernelSize, dilation int, isCausal bool) *Params {
	return &Params{
		BatchSize:  batchSize,
		NumHeads:   numHeads,
		Depth:      depth,
		Height:     height,
		Width:      width,
		Channels:   channels,
		KernelSize: [3]int{kernelSize, kernelSize, kernelSize},
		Dilation:   [3]int{dilation, dilation, dilation},
		IsCausal:   [3]bool{isCausal, isCausal, isCausal},
	}
}

// NewParams2D returns dense-layout parameters for a 2D problem: the depth
// axis is fixed to extent 1 and kernel size 1.
func NewParams2D(batchSize, numHeads, height, width, channels, kernelSize, dilation int, isCausal bool) *Params {
	return &Params{
		BatchSize:  batchSize,
		NumHeads:   numHeads,
		Depth:      1,
		Height:     height,
		Width:      width,
		Channels:   channels,
		KernelSize: [3]int{1, kernelSize, kernelSize},
		Dilation:   [3]int{1, dilation, dilation},
		IsCausal:   [3]bool{false, isCausal, isCausal},
	}
}

// NewParams1D returns dense-layout parameters for a 1D problem: depth and
// height axes are fixed to extent 1 and kernel size 1.
func NewParams1D(batchSize, numHeads, length, channels, kernelSize, dilation int, isCausal bool) *Params {
	return &Params{
		BatchSize:  batchSize,
		NumHeads:   numHeads,
		Depth:      1,
		Height:     1,
		Width:      length,
		Channels:   channels,
		KernelSize: [3]int{1, 1, kernelSize},
		Dilation:   [3]int{1, 1, dilation},
		IsCausal:   [3]bool{false, false, isCausal},
	}
}

// KernelVolume returns the product of the three kernel sizes, the size of
// the last axis of the weights tensor.
func (p *Params) KernelVolume() int {
	return p.KernelSize[0] * p.KernelSize[1] * p.KernelSize[2]
}

// aggregatePlan is the validated, immutable execution plan shared by the
// forward and inverse kernels.
type aggregatePlan struct {
	batchSize, numHeads int
	extents             [3]int
	channels            int
	kernelSize          [3]int
	radius              [3]int
	dilation            [3]int
	isCausal            [3]bool
	kernelVolume        int

	weights stridedview.View // (batch, heads, depth, height, width, kernelVolume)
	values  stridedview.View // (batch, heads, depth, height, width, channels), dense

	// numCoords is the flattened (batch, heads, depth, height, width)
	// coordinate space the kernels are partitioned over.
	numCoords int
}

// plan validates the parameters and builds the execution plan.
func (p *Params) plan() (*aggregatePlan, error) {
	if p.BatchSize <= 0 || p.NumHeads <= 0 || p.Channels <= 0 {
		return nil, errors.Errorf("batch size (%d), heads (%d) and channels (%d) must all be positive",
			p.BatchSize, p.NumHeads, p.Channels)
	}
	plan := &aggregatePlan{
		batchSize:    p.BatchSize,
		numHeads:     p.NumHeads,
		extents:      [3]int{p.Depth, p.Height, p.Width},
		channels:     p.Channels,
		kernelSize:   p.KernelSize,
		dilation:     p.Dilation,
		isCausal:     p.IsCausal,
		kernelVolume: p.KernelVolume(),
	}
	for axis := range 3 {
		extent := plan.extents[axis]
		kernelSize := plan.kernelSize[axis]
		dilation := plan.dilation[axis]
		if extent <= 0 {
			return nil, errors.Errorf("extent of spatial axis %d is %d, must be positive", axis, extent)
		}
		if kernelSize < 1 || kernelSize%2 == 0 {
			return nil, errors.Errorf("kernel size of axis %d is %d, must be odd and >= 1", axis, kernelSize)
		}
		if dilation < 1 {
			return nil, errors.Errorf("dilation of axis %d is %d, must be >= 1", axis, dilation)
		}
		if kernelSize*dilation > extent {
			return nil, errors.Errorf("kernel size %d with dilation %d does not fit axis %d of extent %d",
				kernelSize, dilation, axis, extent)
		}
		plan.radius[axis] = kernelSize / 2
	}

	weightsDims := []int{p.BatchSize, p.NumHeads, p.Depth, p.Height, p.Width, plan.kernelVolume}
	if p.WeightsStrides == nil {
		plan.weights = stridedview.FromDims(weightsDims...)
	} else {
		if len(p.WeightsStrides) != 5 {
			return nil, errors.Errorf("WeightsStrides must have 5 elements (one per leading axis), got %d",
				len(p.WeightsStrides))
		}
		strides := make([]int, 6)
		copy(strides, p.WeightsStrides)
		strides[5] = 1
		plan.weights = stridedview.WithStrides(weightsDims, strides)
	}
	plan.values = stridedview.FromDims(p.BatchSize, p.NumHeads, p.Depth, p.Height, p.Width, p.Channels)
	plan.numCoords = p.BatchSize * p.NumHeads * p.Depth * p.Height * p.Width
	return plan, nil
}

// checkBuffer verifies the dtype and length of one flat buffer.
func checkBuffer(name string, dtype dtypes.DType, buffer any, wantLen int) error {
	value := reflect.ValueOf(buffer)
	if value.Kind() != reflect.Slice {
		return errors.Errorf("%s buffer must be a slice, got %T", name, buffer)
	}
	if got := dtypes.FromGoType(value.Type().Elem()); got != dtype {
		return errors.Errorf("%s buffer has dtype %s, want %s", name, got, dtype)
	}
	if value.Len() < wantLen {
		return errors.Errorf("%s buffer has %d elements, want at least %d", name, value.Len(), wantLen)
	}
	return nil
}

// checkAggregateBuffers validates the three buffers of one invocation.
//
// For non-dense weights layouts only the dense size lower-bounds the buffer,
// the strides are trusted to describe memory owned by the caller.
func (plan *aggregatePlan) checkAggregateBuffers(dtype dtypes.DType, weights, values, output any) error {
	weightsLen := plan.numCoords * plan.kernelVolume
	valuesLen := plan.values.Size()
	if err := checkBuffer("weights", dtype, weights, weightsLen); err != nil {
		return err
	}
	if err := checkBuffer("values", dtype, values, valuesLen); err != nil {
		return err
	}
	return checkBuffer("output", dtype, output, valuesLen)
}

// coordWindows is the per-coordinate state shared by the kernels: the
// decomposed coordinate, the resolved window bounds per axis and the flat
// base offsets into the three tensors.
type coordWindows struct {
	batch, head int
	pos         [3]int
	start, end  [3]int

	weightsBase int // offset of weights[batch, head, pos0, pos1, pos2, 0]
	valuesBase  int // offset of values[batch, head, 0, 0, 0, 0]
	outputBase  int // offset of output[batch, head, pos0, pos1, pos2, 0]
}

// decompose splits the flat coordinate into (batch, head, pos) and computes
// the flat base offsets into the dense values/output layout.
func (plan *aggregatePlan) decompose(flat int, cw *coordWindows) {
	rem := flat
	cw.pos[2] = rem % plan.extents[2]
	rem /= plan.extents[2]
	cw.pos[1] = rem % plan.extents[1]
	rem /= plan.extents[1]
	cw.pos[0] = rem % plan.extents[0]
	rem /= plan.extents[0]
	cw.head = rem % plan.numHeads
	cw.batch = rem / plan.numHeads

	cw.valuesBase = plan.values.Offset(cw.batch, cw.head)
	cw.outputBase = plan.values.Offset(cw.batch, cw.head, cw.pos[0], cw.pos[1], cw.pos[2])
}

// resolve decomposes the flat coordinate and resolves its window bounds.
func (plan *aggregatePlan) resolve(flat int, cw *coordWindows) {
	plan.decompose(flat, cw)
	for axis := range 3 {
		cw.start[axis] = window.Start(cw.pos[axis], plan.extents[axis],
			plan.kernelSize[axis], plan.radius[axis], plan.dilation[axis], plan.isCausal[axis])
		cw.end[axis] = window.End(cw.pos[axis], cw.start[axis], plan.extents[axis],
			plan.kernelSize[axis], plan.dilation[axis], plan.isCausal[axis])
	}
	cw.weightsBase = plan.weights.Offset(cw.batch, cw.head, cw.pos[0], cw.pos[1], cw.pos[2])
}

// minCoordsPerChunk is the minimum number of output coordinates given to one
// worker: below this the goroutine overhead dominates the window work.
const minCoordsPerChunk = 8

// Aggregate computes, for every output coordinate, the weighted sum of the
// value vectors inside the coordinate's neighborhood window:
//
//	output[b,h,k,i,j,:] = Σ_window weights[b,h,k,i,j,enum] * values[b,h,xk,xi,xj,:]
//
// where the window and the weight enumeration are resolved per axis by the
// window package. Accumulation happens in the input precision (see package
// documentation for the float16/bfloat16 rounding behavior).
func Aggregate[T Scalar](weights, values, output []T, params *Params) error {
	return AggregateDType(dtypes.FromGenericsType[T](), weights, values, output, params)
}

// AggregateDType is Aggregate for callers holding flat buffers behind a
// dtypes.DType. The buffers must be slices of the matching Go type.
func AggregateDType(dtype dtypes.DType, weights, values, output any, params *Params) error {
	plan, err := params.plan()
	if err != nil {
		return errors.WithMessage(err, "natten.Aggregate")
	}
	if err = plan.checkAggregateBuffers(dtype, weights, values, output); err != nil {
		return errors.WithMessage(err, "natten.Aggregate")
	}
	aggregateDispatcher.dispatch(dtype, plan, weights, values, output)
	return nil
}

// InverseAggregate computes the gradient of Aggregate with respect to the
// values tensor: for every value coordinate it accumulates the contributions
// of all windows that sampled it,
//
//	valuesGrad[b,h,x,:] = Σ_{q : x ∈ window(q)} weights[b,h,q,enum(x)] * outputGrad[b,h,q,:]
//
// using the same window-boundary logic transposed. weights and the
// parameters must be the ones given to the forward Aggregate call.
func InverseAggregate[T Scalar](weights, outputGrad, valuesGrad []T, params *Params) error {
	return InverseAggregateDType(dtypes.FromGenericsType[T](), weights, outputGrad, valuesGrad, params)
}

// InverseAggregateDType is InverseAggregate over flat "any" buffers.
func InverseAggregateDType(dtype dtypes.DType, weights, outputGrad, valuesGrad any, params *Params) error {
	plan, err := params.plan()
	if err != nil {
		return errors.WithMessage(err, "natten.InverseAggregate")
	}
	if err = plan.checkAggregateBuffers(dtype, weights, outputGrad, valuesGrad); err != nil {
		return errors.WithMessage(err, "natten.InverseAggregate")
	}
	inverseDispatcher.dispatch(dtype, plan, weights, outputGrad, valuesGrad)
	return nil
}
