package main

import (
	"math"
	"runtime/debug"
	"runtime/metrics"

	"github.com/shirou/gopsutil/v3/mem"
)

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// HeapMonitor reports heap usage against the ceiling backpressure uses.
type HeapMonitor interface {
	Used() uint64
	Max() uint64
}

type runtimeHeap struct {
	max    uint64
	sample []metrics.Sample
}

// make sure it implements HeapMonitor
var _ HeapMonitor = (*runtimeHeap)(nil)

// NewHeapMonitor uses maxHeap when it is set, then the runtime memory limit
// (GOMEMLIMIT), and finally a quarter of physical memory.
func NewHeapMonitor(log Logger, maxHeap uint64) HeapMonitor {
	h := &runtimeHeap{
		max:    maxHeap,
		sample: []metrics.Sample{{Name: heapObjectsMetric}},
	}
	if h.max == 0 {
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			h.max = uint64(limit)
		}
	}
	if h.max == 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Warn("unable to read physical memory size: %v; using 1GiB as the heap ceiling\n", err)
			h.max = 1 << 30
		} else {
			h.max = vm.Total / 4
		}
	}
	log.Debug("heap ceiling is %d bytes\n", h.max)
	return h
}

func (h *runtimeHeap) Used() uint64 {
	metrics.Read(h.sample)
	if h.sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return h.sample[0].Value.Uint64()
}

func (h *runtimeHeap) Max() uint64 {
	return h.max
}
