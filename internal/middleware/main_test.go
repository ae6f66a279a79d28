package middleware_test

import (
	"os"
	"testing"

	"github.com/lllypuk/userfeed/tests/testutil"
)

func TestMain(m *testing.M) {
	code := m.Run()
	testutil.CleanupSharedRedisContainer()
	os.Exit(code)
}
