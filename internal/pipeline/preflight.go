package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"veriback/internal/errs"
)

// checkFreeSpace verifies the staging filesystem has room for the
// capture before any tool is invoked.
func checkFreeSpace(path string, requiredMB int64) error {
	if requiredMB <= 0 {
		return nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}

	freeMB := int64(st.Bavail) * st.Bsize / (1024 * 1024)
	if freeMB < requiredMB {
		return errs.New(errs.KindResourceExhaustion,
			fmt.Sprintf("insufficient free space in %s: %d MB available, %d MB required",
				path, freeMB, requiredMB))
	}
	return nil
}

// waitReady polls the verification target until it answers or the
// bounded attempt budget is exhausted. Exhaustion is fatal; the
// pipeline never blocks indefinitely on a target that will not come up.
func waitReady(ctx context.Context, isReady func(context.Context) bool, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.KindInterrupted, "readiness wait interrupted", err)
		}
		if isReady(ctx) {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return errs.Wrap(errs.KindInterrupted, "readiness wait interrupted", ctx.Err())
			}
		}
	}
	return errs.New(errs.KindConnectivity,
		fmt.Sprintf("verification target not ready after %d attempts", attempts))
}
