// Package kube talks to the cluster control plane through the kubectl binary.
//
// Every call is one bounded kubectl invocation via the executor. "Node not
// found" is distinguished from "found" so callers can skip drain/delete for
// nodes that never joined, and a drain failure is reported without hiding the
// captured output.
package kube

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nodescaler/internal/apperrors"
	"nodescaler/internal/executor"
)

// NodeStatus is one observation of a node as reported by the control plane.
type NodeStatus struct {
	Found bool   `json:"found"`
	Ready bool   `json:"ready"`
	Raw   string `json:"raw,omitempty"` // captured kubectl output for diagnostics
}

// Config holds kubectl invocation settings.
type Config struct {
	KubectlPath  string
	Kubeconfig   string
	QueryTimeout time.Duration
	DrainTimeout time.Duration
	DrainGrace   time.Duration // per-pod eviction grace inside the drain
}

// Client issues node-scoped queries and mutations against the cluster.
type Client struct {
	runner executor.Runner
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a kubectl-backed cluster client.
func NewClient(runner executor.Runner, cfg Config) *Client {
	return &Client{
		runner: runner,
		cfg:    cfg,
		logger: slog.With("component", "kube"),
	}
}

func (c *Client) args(extra ...string) []string {
	var args []string
	if c.cfg.Kubeconfig != "" {
		args = append(args, "--kubeconfig", c.cfg.Kubeconfig)
	}
	return append(args, extra...)
}

// NodeStatus queries one node. A non-zero exit with a NotFound message maps
// to Found=false; any other executor-level fault is returned as an error
// because it means the control plane could not be asked at all.
func (c *Client) NodeStatus(ctx context.Context, hostname string) (*NodeStatus, error) {
	args := c.args("get", "node", hostname,
		"-o", `jsonpath={range .status.conditions[?(@.type=="Ready")]}{.status}{end}`)

	result, err := c.runner.Run(ctx, c.cfg.KubectlPath, args, c.cfg.QueryTimeout)
	if err != nil {
		return nil, err
	}

	status := &NodeStatus{Raw: combinedOutput(result)}
	if !result.Success() {
		if isNotFound(result.Stderr) {
			return status, nil
		}
		// The query itself failed (auth, unreachable apiserver). This is an
		// executor-level fault unrelated to the target node.
		return nil, apperrors.Internal("kube.nodeStatus "+hostname, errors.New(combinedOutput(result)))
	}

	status.Found = true
	status.Ready = strings.EqualFold(strings.TrimSpace(result.Stdout), "True")
	return status, nil
}

// Drain evicts workloads from the node. Pods backed by local storage and
// daemonsets are overridden since a node leaving the cluster loses them
// anyway. The result carries the full captured output; the caller records
// success or failure and decides whether to proceed.
func (c *Client) Drain(ctx context.Context, hostname string) (*executor.Result, error) {
	args := c.args("drain", hostname,
		"--ignore-daemonsets",
		"--delete-emptydir-data",
		"--force",
		"--timeout", c.cfg.DrainGrace.String(),
	)
	c.logger.Info("Draining node", "hostname", hostname)
	return c.runner.Run(ctx, c.cfg.KubectlPath, args, c.cfg.DrainTimeout)
}

// DeleteNode removes the node object from the control plane.
func (c *Client) DeleteNode(ctx context.Context, hostname string) (*executor.Result, error) {
	args := c.args("delete", "node", hostname)
	c.logger.Info("Deleting node", "hostname", hostname)
	return c.runner.Run(ctx, c.cfg.KubectlPath, args, c.cfg.QueryTimeout)
}

func isNotFound(stderr string) bool {
	return strings.Contains(stderr, "NotFound") || strings.Contains(stderr, "not found")
}

func combinedOutput(r *executor.Result) string {
	if r == nil {
		return ""
	}
	switch {
	case r.Stdout != "" && r.Stderr != "":
		return r.Stdout + "\n" + r.Stderr
	case r.Stderr != "":
		return r.Stderr
	default:
		return r.Stdout
	}
}
