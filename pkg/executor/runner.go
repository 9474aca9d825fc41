package executor

import (
	"bytes"
	"context"
	"time"

	"github.com/cuemby/warden/pkg/sshpool"
	"github.com/cuemby/warden/pkg/types"
	"golang.org/x/crypto/ssh"
)

// HostParams resolves a host name to its SSH connection parameters
type HostParams func(host string) sshpool.Params

// PoolRunner executes commands over pooled SSH connections
type PoolRunner struct {
	pool   *sshpool.Pool
	params HostParams
}

// NewPoolRunner creates a runner backed by the connection pool
func NewPoolRunner(pool *sshpool.Pool, params HostParams) *PoolRunner {
	return &PoolRunner{pool: pool, params: params}
}

// Run borrows a connection, executes command in one session and returns
// the connection. A timeout cancels the session and yields a failed result.
func (r *PoolRunner) Run(ctx context.Context, host, command string, timeout time.Duration) *types.ExecutionResult {
	start := time.Now()
	result := &types.ExecutionResult{
		Host:      host,
		Timestamp: start,
		ExitCode:  -1,
	}

	client, err := r.pool.Acquire(ctx, host, r.params(host))
	if err != nil {
		result.Error = err.Error()
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}
	defer r.pool.Release(host)

	session, err := client.NewSession()
	if err != nil {
		result.Error = err.Error()
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
	case <-execCtx.Done():
		// Force the channel closed so the session goroutine unblocks
		_ = session.Close()
		result.Error = "command timed out after " + timeout.String()
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
		}
		return result
	}

	result.Success = true
	result.ExitCode = 0
	return result
}
