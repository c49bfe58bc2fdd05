package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "LEDGER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

// InTestMode reports whether LEDGER_TEST_MODE=1. Binaries exit early and the
// router skips access logging when it is set.
func InTestMode() bool {
	testModeInit.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads LEDGER_TEST_MODE after the environment changed.
func RefreshTestMode() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}
