package domain

import "context"

// Transport moves artifacts between hosts and between a host and an
// execution surface (container). Transfers are not assumed atomic: a
// mid-way failure is surfaced and retried from scratch, never resumed.
type Transport interface {
	CopyToHost(ctx context.Context, localPath, remoteAddr, remotePath string) error
	CopyFromSurface(ctx context.Context, surfaceID, srcPath, localPath string) error
	CopyToSurface(ctx context.Context, localPath, surfaceID, dstPath string) error
	ValidateReachable(ctx context.Context, remoteAddr string) bool
}
