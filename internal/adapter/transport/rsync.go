package transport

import (
	"context"
	"fmt"
	"os/exec"
)

// Rsync moves artifacts with rsync over ssh. Like the scp transport it
// gives no partial-resume guarantee to the pipeline; rsync's delta
// handling only speeds up the from-scratch retry.
type Rsync struct{}

func NewRsync() *Rsync {
	return &Rsync{}
}

func (r *Rsync) CopyToHost(ctx context.Context, localPath, remoteAddr, remotePath string) error {
	cmd := exec.CommandContext(ctx, "rsync",
		"-az", "--timeout=300",
		localPath,
		fmt.Sprintf("%s:%s", remoteAddr, remotePath),
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync to %s failed: %w, output: %s", remoteAddr, err, string(output))
	}
	return nil
}

func (r *Rsync) CopyFromSurface(ctx context.Context, surfaceID, srcPath, localPath string) error {
	return copyFromSurface(ctx, surfaceID, srcPath, localPath)
}

func (r *Rsync) CopyToSurface(ctx context.Context, localPath, surfaceID, dstPath string) error {
	return copyToSurface(ctx, localPath, surfaceID, dstPath)
}

func (r *Rsync) ValidateReachable(ctx context.Context, remoteAddr string) bool {
	return validateReachable(ctx, remoteAddr)
}
