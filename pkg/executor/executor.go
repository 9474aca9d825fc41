package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout = 30 * time.Second
	auditCapacity  = 1000
	auditRecent    = 10
)

// Runner executes one command on one host. The production runner goes
// through the SSH connection pool; tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, host, command string, timeout time.Duration) *types.ExecutionResult
}

// ApprovalRequest records a command awaiting operator approval
type ApprovalRequest struct {
	ID        int64
	Command   string
	Targets   []string
	CreatedAt time.Time
	Approved  bool
	Decided   bool
}

// ApprovalFunc decides an approval request. Returning false (or a nil
// func) denies; the request stays recorded for an external actor to audit.
type ApprovalFunc func(req *ApprovalRequest) bool

// Options modify one Execute invocation
type Options struct {
	Parallel        bool
	DryRun          bool
	RequireApproval bool
	Timeout         time.Duration
}

// Request is one fleet execution
type Request struct {
	Target  []string
	Command string
	Options Options
}

// AuditRecord is one entry in the execution audit trail
type AuditRecord struct {
	Timestamp time.Time
	Command   string
	Targets   []string
	Success   bool
	DryRun    bool
}

// Executor resolves targets, applies command policy and fans commands out
// across the fleet
type Executor struct {
	runner   Runner
	policy   *Policy
	groups   map[string][]string
	approval ApprovalFunc

	mu         sync.Mutex
	audit      []*AuditRecord
	approvals  []*ApprovalRequest
	approvalID int64
}

// New creates an executor. groups maps group names to member hosts.
func New(runner Runner, policy *Policy, groups map[string][]string) *Executor {
	if policy == nil {
		policy = NewPolicy(nil)
	}
	return &Executor{
		runner: runner,
		policy: policy,
		groups: groups,
	}
}

// WithApproval installs the approval decision hook
func (e *Executor) WithApproval(fn ApprovalFunc) *Executor {
	e.approval = fn
	return e
}

// ResolveTarget expands each element: known group name becomes its members,
// anything else is a single host. Order is preserved, duplicates removed.
func (e *Executor) ResolveTarget(target []string) []string {
	var hosts []string
	seen := make(map[string]bool)

	add := func(h string) {
		if !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}

	for _, t := range target {
		if members, ok := e.groups[t]; ok {
			for _, m := range members {
				add(m)
			}
		} else {
			add(t)
		}
	}
	return hosts
}

// Execute runs the request against all resolved targets
func (e *Executor) Execute(ctx context.Context, req Request) (*types.BatchResult, error) {
	hosts := e.ResolveTarget(req.Target)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no targets resolved from %v", req.Target)
	}

	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// Policy runs before any dialing
	if err := e.policy.Check(req.Command, req.Options.RequireApproval); err != nil {
		e.record(req.Command, hosts, false, req.Options.DryRun)
		return nil, err
	}

	if req.Options.RequireApproval {
		if !e.requestApproval(req.Command, hosts) {
			e.record(req.Command, hosts, false, req.Options.DryRun)
			return nil, fmt.Errorf("approval denied for command: %s", req.Command)
		}
	}

	if req.Options.DryRun {
		batch := e.dryRun(hosts, req.Command)
		e.record(req.Command, hosts, true, true)
		return batch, nil
	}

	results := make([]*types.ExecutionResult, len(hosts))

	if req.Options.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, host := range hosts {
			g.Go(func() error {
				results[i] = e.runOne(gctx, host, req.Command, timeout)
				// Per-target failures never abort peers
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, host := range hosts {
			results[i] = e.runOne(ctx, host, req.Command, timeout)
		}
	}

	batch := aggregate(results)
	e.record(req.Command, hosts, batch.OverallSuccess, false)
	return batch, nil
}

func (e *Executor) runOne(ctx context.Context, host, command string, timeout time.Duration) *types.ExecutionResult {
	start := time.Now()
	result := e.runner.Run(ctx, host, command, timeout)
	if result == nil {
		result = &types.ExecutionResult{
			Host:      host,
			Success:   false,
			Error:     "runner returned no result",
			Timestamp: start,
		}
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
		logger := log.WithComponent("executor")
		logger.Warn().
			Str("host", host).
			Str("error", result.Error).
			Msg("remote command failed")
	}
	metrics.RemoteCommandsTotal.WithLabelValues(outcome).Inc()
	metrics.RemoteCommandDuration.Observe(time.Since(start).Seconds())
	return result
}

func (e *Executor) dryRun(hosts []string, command string) *types.BatchResult {
	results := make([]*types.ExecutionResult, len(hosts))
	now := time.Now()
	for i, host := range hosts {
		results[i] = &types.ExecutionResult{
			Host:      host,
			Success:   true,
			Stdout:    fmt.Sprintf("[dry-run] %s", command),
			Timestamp: now,
		}
	}
	return aggregate(results)
}

func (e *Executor) requestApproval(command string, hosts []string) bool {
	e.mu.Lock()
	e.approvalID++
	req := &ApprovalRequest{
		ID:        e.approvalID,
		Command:   command,
		Targets:   hosts,
		CreatedAt: time.Now(),
	}
	e.approvals = append(e.approvals, req)
	fn := e.approval
	e.mu.Unlock()

	// Deny by default; an injected hook may flip the decision.
	approved := false
	if fn != nil {
		approved = fn(req)
	}

	e.mu.Lock()
	req.Decided = true
	req.Approved = approved
	e.mu.Unlock()
	return approved
}

func (e *Executor) record(command string, hosts []string, success, dryRun bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.audit = append(e.audit, &AuditRecord{
		Timestamp: time.Now(),
		Command:   command,
		Targets:   hosts,
		Success:   success,
		DryRun:    dryRun,
	})
	if len(e.audit) > auditCapacity {
		e.audit = e.audit[len(e.audit)-auditCapacity:]
	}
}

// Status exposes the most recent audit records (latest 10)
func (e *Executor) Status() []*AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.audit)
	if n > auditRecent {
		n = auditRecent
	}
	out := make([]*AuditRecord, n)
	copy(out, e.audit[len(e.audit)-n:])
	return out
}

// PendingApprovals returns approval requests that have not been decided
func (e *Executor) PendingApprovals() []*ApprovalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pending []*ApprovalRequest
	for _, req := range e.approvals {
		if !req.Decided {
			pending = append(pending, req)
		}
	}
	return pending
}

func aggregate(results []*types.ExecutionResult) *types.BatchResult {
	batch := &types.BatchResult{Results: results}
	batch.Summary.Total = len(results)
	for _, r := range results {
		if r.Success {
			batch.Summary.Succeeded++
		} else {
			batch.Summary.Failed++
		}
	}
	batch.OverallSuccess = batch.Summary.Failed == 0 && batch.Summary.Total > 0
	return batch
}
