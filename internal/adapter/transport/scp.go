package transport

import (
	"context"
	"fmt"
	"os/exec"
)

// SCP moves artifacts with scp. Directory trees are copied
// recursively; a mid-way failure leaves no usable artifact and is
// retried from scratch by the caller.
type SCP struct{}

func NewSCP() *SCP {
	return &SCP{}
}

func (s *SCP) CopyToHost(ctx context.Context, localPath, remoteAddr, remotePath string) error {
	cmd := exec.CommandContext(ctx, "scp",
		"-q", "-r",
		"-o", "BatchMode=yes",
		localPath,
		fmt.Sprintf("%s:%s", remoteAddr, remotePath),
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("scp to %s failed: %w, output: %s", remoteAddr, err, string(output))
	}
	return nil
}

func (s *SCP) CopyFromSurface(ctx context.Context, surfaceID, srcPath, localPath string) error {
	return copyFromSurface(ctx, surfaceID, srcPath, localPath)
}

func (s *SCP) CopyToSurface(ctx context.Context, localPath, surfaceID, dstPath string) error {
	return copyToSurface(ctx, localPath, surfaceID, dstPath)
}

func (s *SCP) ValidateReachable(ctx context.Context, remoteAddr string) bool {
	return validateReachable(ctx, remoteAddr)
}
