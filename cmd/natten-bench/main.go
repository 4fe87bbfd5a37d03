// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// natten-bench measures the throughput of the neighborhood attention
// aggregation kernel across problem sizes and dtypes on the local CPU.
//
// Example:
//
//	$ go run github.com/gomlx/natten/cmd/natten-bench -min_time=500ms
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/gomlx/natten"
)

var (
	flagBatchSize = flag.Int("batch", 1, "Batch size used for every configuration.")
	flagNumHeads  = flag.Int("heads", 4, "Number of attention heads used for every configuration.")
	flagChannels  = flag.Int("channels", 32, "Channels (head dim) used for every configuration.")
	flagMinTime   = flag.Duration("min_time", time.Second, "Minimum wall time to spend per configuration.")
	flagInverse   = flag.Bool("inverse", false, "Benchmark the gradient (inverse) kernel instead of the forward one.")
)

type benchConfig struct {
	extent, kernelSize int
	dtype              dtypes.DType
}

func main() {
	flag.Parse()

	var configs []benchConfig
	for _, extent := range []int{28, 56} {
		for _, kernelSize := range []int{3, 7, 13} {
			for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float64, dtypes.Float16, dtypes.BFloat16} {
				configs = append(configs, benchConfig{extent: extent, kernelSize: kernelSize, dtype: dtype})
			}
		}
	}

	bar := progressbar.NewOptions(len(configs),
		progressbar.OptionSetDescription("benchmarking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)

	table := newResultsTable()
	for _, config := range configs {
		perRun, err := run(config)
		if err != nil {
			klog.Exitf("Configuration %dx%d k=%d %s failed: %v",
				config.extent, config.extent, config.kernelSize, config.dtype, err)
		}
		flops := flopsPerRun(config)
		table.Row(
			fmt.Sprintf("%dx%d", config.extent, config.extent),
			fmt.Sprintf("%d", config.kernelSize),
			config.dtype.String(),
			perRun.Round(time.Microsecond).String(),
			humanize.SIWithDigits(float64(flops)/perRun.Seconds(), 2, "FLOP/s"),
		)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	fmt.Println(table.Render())
}

// flopsPerRun counts one multiply and one add per visited window element.
func flopsPerRun(config benchConfig) int {
	numCoords := *flagBatchSize * *flagNumHeads * config.extent * config.extent
	kernelVolume := config.kernelSize * config.kernelSize
	return 2 * numCoords * kernelVolume * *flagChannels
}

// run times the kernel on one configuration and returns the time per run.
func run(config benchConfig) (time.Duration, error) {
	p := natten.NewParams2D(*flagBatchSize, *flagNumHeads, config.extent, config.extent,
		*flagChannels, config.kernelSize, 1, false)
	numCoords := p.BatchSize * p.NumHeads * p.Depth * p.Height * p.Width
	weights := newBuffer(config.dtype, numCoords*p.KernelVolume())
	values := newBuffer(config.dtype, numCoords*p.Channels)
	output := newBuffer(config.dtype, numCoords*p.Channels)

	kernel := natten.AggregateDType
	if *flagInverse {
		kernel = natten.InverseAggregateDType
	}

	// Warm up once, then run until the time budget is spent.
	if err := kernel(config.dtype, weights, values, output, p); err != nil {
		return 0, err
	}
	var runs int
	start := time.Now()
	for time.Since(start) < *flagMinTime {
		if err := kernel(config.dtype, weights, values, output, p); err != nil {
			return 0, err
		}
		runs++
	}
	return time.Since(start) / time.Duration(runs), nil
}

// newBuffer allocates a flat buffer of the dtype filled with random values
// in [0, 1).
func newBuffer(dtype dtypes.DType, size int) any {
	rng := rand.New(rand.NewSource(42))
	switch dtype {
	case dtypes.Float32:
		data := make([]float32, size)
		for i := range data {
			data[i] = rng.Float32()
		}
		return data
	case dtypes.Float64:
		data := make([]float64, size)
		for i := range data {
			data[i] = rng.Float64()
		}
		return data
	case dtypes.Float16:
		data := make([]float16.Float16, size)
		for i := range data {
			data[i] = float16.Fromfloat32(rng.Float32())
		}
		return data
	case dtypes.BFloat16:
		data := make([]bfloat16.BFloat16, size)
		for i := range data {
			data[i] = bfloat16.FromFloat32(rng.Float32())
		}
		return data
	}
	klog.Exitf("Unsupported dtype %s", dtype)
	return nil
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newResultsTable() *lgtable.Table {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		})
	table.Headers("Spatial", "Kernel", "DType", "Time/run", "Throughput")
	return table
}
