// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/memspaces/internal/workerspool"
	"github.com/gomlx/memspaces/location"
	"github.com/gomlx/memspaces/memory"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var selfCheckSizes = []uint64{1, 64, 4096}

type selfCheckCase struct {
	src, dst location.Location
	size     uint64
}

func (c selfCheckCase) String() string {
	return fmt.Sprintf("%s -> %s (%d bytes)", c.src, c.dst, c.size)
}

// selfCheck copies a pattern from the host to src, from src to dst and back to the host, for every
// pair of locations and sizes, and returns the number of failed cases.
func selfCheck(ctx *memory.Context, parallelism int) int {
	var cases []selfCheckCase
	for _, src := range location.Concrete {
		for _, dst := range location.Concrete {
			for _, size := range selfCheckSizes {
				cases = append(cases, selfCheckCase{src: src, dst: dst, size: size})
			}
		}
	}

	bar := progressbar.NewOptions(len(cases),
		progressbar.OptionSetDescription("self-check"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish())
	workers := workerspool.New()
	if parallelism >= -1 {
		workers.SetMaxParallelism(parallelism)
	}

	var mu sync.Mutex
	var failures []error
	for _, c := range cases {
		workers.WaitToStart(func() {
			err := exceptions.TryCatch[error](func() { runSelfCheckCase(ctx, c) })
			if err != nil {
				mu.Lock()
				failures = append(failures, errors.WithMessage(err, c.String()))
				mu.Unlock()
			}
			_ = bar.Add(1)
		})
	}
	workers.Wait()
	_ = bar.Finish()

	for _, err := range failures {
		klog.Errorf("self-check %v", err)
	}
	if len(failures) == 0 {
		fmt.Printf("self-check: %d copies across %d locations ok\n", len(cases), len(location.Concrete))
	}
	return len(failures)
}

func runSelfCheckCase(ctx *memory.Context, c selfCheckCase) {
	backend := ctx.Backend()
	want := make([]byte, c.size)
	for i := range want {
		want[i] = byte(i*13 + int(c.src)*7 + int(c.dst))
	}

	staging := ctx.MAlloc(c.size, location.Host)
	defer ctx.Free(staging, location.Host)
	copy(backend.Bytes(staging, c.size), want)

	src := ctx.MAlloc(c.size, c.src)
	defer ctx.Free(src, c.src)
	dst := ctx.MAlloc(c.size, c.dst)
	defer ctx.Free(dst, c.dst)
	ctx.Copy(src, c.src, staging, location.Host, c.size)
	ctx.Copy(dst, c.dst, src, c.src, c.size)

	ctx.Memset(staging, 0, c.size, location.Host)
	ctx.Copy(staging, location.Host, dst, c.dst, c.size)
	if got := backend.Bytes(staging, c.size); !bytes.Equal(got, want) {
		exceptions.Panicf("data changed in round trip: got %x, want %x", got, want)
	}
}
