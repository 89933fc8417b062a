package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("MATLEDGER_TEST_MODE", "1")
		if _, ok := os.LookupEnv("REDIS_ADDR"); !ok {
			_ = os.Setenv("REDIS_ADDR", "")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
