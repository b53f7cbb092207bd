package kube

import (
	"context"
	"log/slog"
	"time"

	"nodescaler/pkg/backoff"
)

// Snapshot is the final observation of a readiness poll.
type Snapshot struct {
	NodeStatus
	Attempts int `json:"attempts"`
}

// PollerConfig bounds the readiness poll.
type PollerConfig struct {
	MaxAttempts int
	Interval    time.Duration // initial wait between attempts, grows exponentially
	MaxInterval time.Duration
}

// Poller repeatedly queries node readiness with bounded attempts and backoff.
type Poller struct {
	client *Client
	cfg    PollerConfig
	logger *slog.Logger
}

// NewPoller creates a readiness poller over the cluster client.
func NewPoller(client *Client, cfg PollerConfig) *Poller {
	return &Poller{
		client: client,
		cfg:    cfg,
		logger: slog.With("component", "poller"),
	}
}

// WaitReady polls until the node reports Ready=true, attempts are exhausted,
// or the context is cancelled, whichever comes first. "Not found" means the
// node has not registered yet and "found but not ready" means it is still
// joining; both continue polling. The returned snapshot always describes the
// last observation, so a caller failing the job can say what was seen.
func (p *Poller) WaitReady(ctx context.Context, hostname string) (*Snapshot, error) {
	policy := backoff.Policy{Initial: p.cfg.Interval, Max: p.cfg.MaxInterval}
	snapshot := &Snapshot{}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		status, err := p.client.NodeStatus(ctx, hostname)
		if err != nil {
			return snapshot, err
		}

		snapshot.NodeStatus = *status
		snapshot.Attempts = attempt

		if status.Found && status.Ready {
			p.logger.Info("Node is ready", "hostname", hostname, "attempts", attempt)
			return snapshot, nil
		}

		p.logger.Debug("Node not ready yet",
			"hostname", hostname,
			"attempt", attempt,
			"found", status.Found,
		)

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return snapshot, ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}

	return snapshot, nil
}
