package utils

import (
	"runtime"
)

// GOMAXPROCS Usable parallelism, used as default thread count and for dataset initialization
var GOMAXPROCS = min(runtime.GOMAXPROCS(0), runtime.NumCPU())

// MaxThreads Upper bound of mining workers, each one holds its own scratch and blob copy
const MaxThreads = 1024

// ClampThreads Normalizes a requested worker count. Zero or negative values select GOMAXPROCS minus that amount, at least one.
func ClampThreads(threads int) int {
	if threads <= 0 {
		return min(GOMAXPROCS, max(GOMAXPROCS+threads, 1))
	}
	return min(threads, MaxThreads)
}
