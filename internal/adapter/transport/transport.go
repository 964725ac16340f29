package transport

import (
	"context"
	"fmt"
	"os/exec"

	"veriback/internal/domain"
)

// New selects a transfer method by name.
func New(method string) (domain.Transport, error) {
	switch method {
	case "scp":
		return NewSCP(), nil
	case "rsync":
		return NewRsync(), nil
	}
	return nil, fmt.Errorf("unsupported transfer method: %s", method)
}

// copyFromSurface and copyToSurface move artifacts across the
// container boundary. Both transports share them; docker cp has no
// partial-resume semantics, so a failure is surfaced for a from-scratch
// retry at the stage level.
func copyFromSurface(ctx context.Context, surfaceID, srcPath, localPath string) error {
	cmd := exec.CommandContext(ctx, "docker", "cp",
		fmt.Sprintf("%s:%s", surfaceID, srcPath), localPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker cp from %s failed: %w, output: %s", surfaceID, err, string(output))
	}
	return nil
}

func copyToSurface(ctx context.Context, localPath, surfaceID, dstPath string) error {
	cmd := exec.CommandContext(ctx, "docker", "cp",
		localPath, fmt.Sprintf("%s:%s", surfaceID, dstPath))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker cp to %s failed: %w, output: %s", surfaceID, err, string(output))
	}
	return nil
}

func validateReachable(ctx context.Context, remoteAddr string) bool {
	cmd := exec.CommandContext(ctx, "ssh",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=5",
		remoteAddr, "true")
	return cmd.Run() == nil
}
