// Command segheap-stress drives a set of independent thread heaps with
// concurrent random allocate/free traffic, adapted from the teacher's
// main.go: same iteration/worker/report shape, but exercising a real
// per-worker heap.Heap instead of the disk-allocation toy model, and
// routing a fraction of frees across goroutines through PushPendingFree to
// exercise the cross-thread free queue.
//
// PushPendingFree's contract is that p must belong to the heap it is
// pushed onto (C9: the receiving heap later reclaims it as its own).
// Every cross-thread free below is therefore tagged with the heap that
// actually allocated the pointer — never an arbitrary peer — and delivered
// by whichever goroutine happens to pick the tagged message off the shared
// channel. That is usually a goroutine other than the owner, but the owner
// may pick up its own message, and any left over at the end are pushed by
// main.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unsafe"

	"segheap/admin"
	"segheap/heap"
	"segheap/internal/xlog"
)

const (
	minBlockSize = 16
	maxBlockSize = 1024 * 1024
)

// crossFree carries a pointer back to the heap that owns it, so whichever
// goroutine dequeues the message pushes onto the correct heap rather than
// its own.
type crossFree struct {
	owner *heap.Heap
	ptr   unsafe.Pointer
}

type workerResult struct {
	worker      int
	allocations uint64
	frees       uint64
	crossFrees  uint64
	relayed     uint64
	duration    time.Duration
}

func runWorker(id int, ops int, h *heap.Heap, ch chan crossFree, wg *sync.WaitGroup, results chan<- workerResult) {
	defer wg.Done()

	rng := rand.New(rand.NewSource(int64(id) + 1))
	live := make([]uintptr, 0, 256)
	var allocations, frees, crossFrees, relayed uint64

	start := time.Now()
	for i := 0; i < ops; i++ {
		// Opportunistically relay one pending cross-thread free on behalf
		// of whichever heap queued it; when that heap is not this worker's
		// own, this exercises C9's case of a goroutine other than the
		// owner performing the push on the owner's behalf.
		select {
		case msg := <-ch:
			msg.owner.PushPendingFree(msg.ptr)
			relayed++
		default:
		}

		switch {
		case len(live) > 0 && rng.Float64() < 0.35:
			idx := rng.Intn(len(live))
			p := live[idx]
			live = append(live[:idx], live[idx+1:]...)

			if rng.Float64() < 0.1 {
				select {
				case ch <- crossFree{owner: h, ptr: unsafe.Pointer(p)}:
					crossFrees++
				default:
					// Channel saturated: fall back to a local free rather
					// than block or drop the pointer.
					h.Free(unsafe.Pointer(p))
					frees++
				}
			} else {
				h.Free(unsafe.Pointer(p))
				frees++
			}
		default:
			size := uint64(rng.Int63n(maxBlockSize-minBlockSize+1) + minBlockSize)
			p, err := h.Allocate(size)
			if err != nil {
				xlog.Warn("worker %d: allocate(%d): %v", id, size, err)
				continue
			}
			live = append(live, uintptr(p))
			allocations++
		}
	}

	results <- workerResult{
		worker:      id,
		allocations: allocations,
		frees:       frees,
		crossFrees:  crossFrees,
		relayed:     relayed,
		duration:    time.Since(start),
	}
}

func main() {
	workers := flag.Int("workers", 8, "number of concurrent heap workers")
	ops := flag.Int("ops", 200000, "operations per worker")
	adminAddr := flag.String("admin", "", "if set, serve a stats endpoint for the first worker's heap on this address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error, none")
	flag.Parse()

	switch *logLevel {
	case "debug":
		xlog.SetLevel(xlog.LevelDebug)
	case "warn":
		xlog.SetLevel(xlog.LevelWarn)
	case "error":
		xlog.SetLevel(xlog.LevelError)
	case "none":
		xlog.SetLevel(xlog.LevelNone)
	default:
		xlog.SetLevel(xlog.LevelInfo)
	}

	fmt.Printf("Starting segheap stress run: %d workers, %d ops each\n", *workers, *ops)

	heaps := make([]*heap.Heap, *workers)
	for i := range heaps {
		heaps[i] = heap.New()
	}

	if *adminAddr != "" {
		srv, err := admin.NewServer(heaps[0])
		if err != nil {
			xlog.Fatalf("admin server: %v", err)
		}
		go func() {
			if err := srv.Start(*adminAddr); err != nil {
				xlog.Warn("admin server stopped: %v", err)
			}
		}()
		fmt.Printf("Admin stats endpoint listening on %s (worker 0's heap)\n", *adminAddr)
	}

	ch := make(chan crossFree, (*workers)*64)
	results := make(chan workerResult, *workers)
	var wg sync.WaitGroup
	overallStart := time.Now()

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go runWorker(i, *ops, heaps[i], ch, &wg, results)
	}

	wg.Wait()
	close(results)

	// Every worker has stopped sending; drain whatever cross-thread frees
	// never got picked up mid-run before anyone's heap is touched again.
	close(ch)
	for msg := range ch {
		msg.owner.PushPendingFree(msg.ptr)
	}
	for _, h := range heaps {
		h.Drain()
	}

	var totalAlloc, totalFree, totalCross, totalRelayed uint64
	for r := range results {
		totalAlloc += r.allocations
		totalFree += r.frees
		totalCross += r.crossFrees
		totalRelayed += r.relayed
		fmt.Printf("worker %d: allocations=%d frees=%d cross_frees=%d relayed=%d duration=%v\n",
			r.worker, r.allocations, r.frees, r.crossFrees, r.relayed, r.duration)
	}

	for i, h := range heaps {
		snap := h.Snapshot()
		fmt.Printf("heap %d: active_segments=%d huge_segments=%d pending_frees=%d\n",
			i, snap.ActiveSegments, snap.HugeSegments, snap.PendingFrees)
	}

	for _, h := range heaps {
		if err := h.Close(); err != nil {
			xlog.Warn("heap close: %v", err)
		}
	}

	fmt.Println()
	fmt.Println("Totals:")
	fmt.Printf("  allocations: %d\n", totalAlloc)
	fmt.Printf("  frees:       %d\n", totalFree)
	fmt.Printf("  cross frees: %d\n", totalCross)
	fmt.Printf("  relayed:     %d\n", totalRelayed)
	fmt.Printf("  duration:    %v\n", time.Since(overallStart))
}
