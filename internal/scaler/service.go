// Package scaler runs the node lifecycle workflows.
//
// Each accepted request becomes one asynchronous job: the add workflow grows
// the inventory and provisions the node with the scale playbook, the remove
// workflow drains and deletes the node from the cluster before shrinking the
// inventory. The job table is the only view clients get of a running
// workflow.
package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"nodescaler/internal/apperrors"
	"nodescaler/internal/executor"
	"nodescaler/internal/inventory"
	"nodescaler/internal/job"
	"nodescaler/internal/kube"
	"nodescaler/internal/notifier"
)

// MetricsRecorder receives workflow lifecycle metrics.
type MetricsRecorder interface {
	RecordJobCreated(ctx context.Context, kind string)
	RecordJobCompleted(ctx context.Context, kind string, success bool, durationSeconds float64)
	RecordInventoryMutation(ctx context.Context, op string)
}

// Service owns the workflows and their shared state.
type Service struct {
	cfg     *Config
	inv     *inventory.Store
	runner  executor.Runner
	kube    *kube.Client
	poller  *kube.Poller
	jobs    *job.Store
	events  notifier.Publisher // nil when no webhook is configured
	metrics MetricsRecorder    // nil when metrics are disabled
	logger  *slog.Logger

	wg sync.WaitGroup // in-flight workflow goroutines
}

// New wires the service. The runner is shared between the playbook and
// kubectl invocations so instrumentation covers both.
func New(cfg *Config, inv *inventory.Store, runner executor.Runner, jobs *job.Store, events notifier.Publisher, metrics MetricsRecorder) *Service {
	client := kube.NewClient(runner, cfg.KubeConfig())
	return &Service{
		cfg:     cfg,
		inv:     inv,
		runner:  runner,
		kube:    client,
		poller:  kube.NewPoller(client, cfg.PollerConfig()),
		jobs:    jobs,
		events:  events,
		metrics: metrics,
		logger:  slog.With("component", "scaler"),
	}
}

// Add validates and submits an add workflow. The returned key is what clients
// poll; the workflow itself runs in the background.
func (s *Service) Add(req job.AddRequest) (*job.Submitted, error) {
	if err := job.ValidateHostname(req.Hostname); err != nil {
		return nil, err
	}
	if err := job.ValidateIP(req.IP, true); err != nil {
		return nil, err
	}

	key := job.Key(job.KindAdd, req.Hostname, req.IP)
	j := &job.Job{Key: key, Kind: job.KindAdd, Hostname: req.Hostname, IP: req.IP}
	if !s.jobs.TryCreate(j) {
		return nil, apperrors.Conflict("job", key, fmt.Sprintf("a job for %s is already in progress", key))
	}

	s.recordCreated(job.KindAdd)
	s.wg.Add(1)
	go s.runAdd(key, req.Hostname, req.IP)

	return &job.Submitted{Key: key, Status: job.StatusPending}, nil
}

// Remove validates and submits a remove workflow.
func (s *Service) Remove(req job.RemoveRequest) (*job.Submitted, error) {
	if err := job.ValidateHostname(req.Hostname); err != nil {
		return nil, err
	}
	if err := job.ValidateIP(req.IP, false); err != nil {
		return nil, err
	}

	key := job.Key(job.KindRemove, req.Hostname, req.IP)
	j := &job.Job{Key: key, Kind: job.KindRemove, Hostname: req.Hostname, IP: req.IP}
	if !s.jobs.TryCreate(j) {
		return nil, apperrors.Conflict("job", key, fmt.Sprintf("a job for %s is already in progress", key))
	}

	s.recordCreated(job.KindRemove)
	s.wg.Add(1)
	go s.runRemove(key, req.Hostname, req.SkipClusterRemoval)

	return &job.Submitted{Key: key, Status: job.StatusPending}, nil
}

// Get returns the job snapshot for a key.
func (s *Service) Get(key string) (*job.Job, error) {
	j, ok := s.jobs.Get(key)
	if !ok {
		return nil, apperrors.NotFound("job", key)
	}
	return j, nil
}

// List returns all job snapshots in creation order.
func (s *Service) List() []*job.Job {
	return s.jobs.List()
}

// Inventory returns the current inventory document.
func (s *Service) Inventory() (*inventory.File, error) {
	return s.inv.Snapshot()
}

// Ready verifies the service can run workflows: the inventory parses and the
// external tools resolve on PATH.
func (s *Service) Ready(ctx context.Context) error {
	if _, err := s.inv.Snapshot(); err != nil {
		return err
	}
	if _, err := exec.LookPath(s.cfg.AnsiblePath); err != nil {
		return fmt.Errorf("ansible-playbook not available: %w", err)
	}
	if _, err := exec.LookPath(s.cfg.KubectlPath); err != nil {
		return fmt.Errorf("kubectl not available: %w", err)
	}
	return nil
}

// Drain waits for in-flight workflows, bounded by the context deadline.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runAdd is the add workflow: grow the inventory, run the scale playbook
// limited to the new host, then poll the control plane until the node
// reports Ready.
func (s *Service) runAdd(key, hostname, ip string) {
	defer s.wg.Done()
	start := time.Now()
	ctx := context.Background()

	s.jobs.Transition(key, job.StatusRunning, "provisioning node", nil)
	s.logger.Info("Add workflow started", "key", key, "hostname", hostname, "ip", ip)

	added, err := s.inv.AddHost(hostname, ip)
	if err != nil {
		s.finish(key, job.KindAdd, start, job.StatusFailed, err.Error(), nil)
		return
	}
	if added {
		s.recordMutation("add_host")
	} else {
		s.logger.Info("Host already in inventory, provisioning anyway", "hostname", hostname)
	}

	args := []string{"--inventory", s.inv.Path(), s.cfg.PlaybookPath, "--limit=" + hostname}
	result, err := s.runner.Run(ctx, s.cfg.AnsiblePath, args, s.cfg.ProvisionTimeout)
	if err != nil {
		s.finish(key, job.KindAdd, start, job.StatusFailed,
			fmt.Sprintf("provisioning did not complete: %v", err),
			func(j *job.Job) { j.Output = result })
		return
	}
	if !result.Success() {
		s.finish(key, job.KindAdd, start, job.StatusFailed,
			fmt.Sprintf("provisioning playbook failed with exit code %d", result.ExitCode),
			func(j *job.Job) { j.Output = result })
		return
	}

	snap, err := s.poller.WaitReady(ctx, hostname)
	if err != nil {
		s.finish(key, job.KindAdd, start, job.StatusFailed,
			fmt.Sprintf("readiness verification failed: %v", err),
			func(j *job.Job) {
				j.Output = result
				j.AddResult = &job.AddResult{NodeStatus: snap}
			})
		return
	}
	if !snap.Ready {
		s.finish(key, job.KindAdd, start, job.StatusFailed,
			fmt.Sprintf("node did not become ready within %d attempts", snap.Attempts),
			func(j *job.Job) {
				j.Output = result
				j.AddResult = &job.AddResult{NodeStatus: snap}
			})
		return
	}

	s.finish(key, job.KindAdd, start, job.StatusCompleted, "node joined and ready",
		func(j *job.Job) {
			j.Output = result
			j.AddResult = &job.AddResult{NodeStatus: snap}
		})
}

// runRemove is the remove workflow: refuse control-plane members, then drain
// and delete the node from the cluster (unless skipped) and shrink the
// inventory. Cluster steps are recorded independently so a partial removal is
// visible in the job record.
func (s *Service) runRemove(key, hostname string, skipCluster bool) {
	defer s.wg.Done()
	start := time.Now()
	ctx := context.Background()

	s.jobs.Transition(key, job.StatusRunning, "removing node", nil)
	s.logger.Info("Remove workflow started", "key", key, "hostname", hostname, "skipCluster", skipCluster)

	protected, err := s.inv.IsControlPlane(hostname)
	if err != nil {
		s.finish(key, job.KindRemove, start, job.StatusFailed, err.Error(), nil)
		return
	}
	if protected {
		s.finish(key, job.KindRemove, start, job.StatusFailed,
			apperrors.Protected(hostname).Error(), nil)
		return
	}

	res := &job.RemoveResult{}

	if !skipCluster {
		cluster := &job.ClusterRemoval{}
		res.Kubernetes = cluster

		status, err := s.kube.NodeStatus(ctx, hostname)
		if err != nil {
			s.finish(key, job.KindRemove, start, job.StatusFailed,
				fmt.Sprintf("cluster query failed: %v", err),
				func(j *job.Job) { j.RemoveResult = res })
			return
		}
		cluster.Exists = status.Found

		if status.Found {
			drainRes, drainErr := s.kube.Drain(ctx, hostname)
			cluster.Drain = job.StepResult{
				Attempted: true,
				Succeeded: drainErr == nil && drainRes.Success(),
				Output:    drainRes,
			}
			if !cluster.Drain.Succeeded {
				s.logger.Warn("Drain failed", "hostname", hostname, "error", drainErr)
				if !s.cfg.DeleteAfterFailedDrain {
					s.finish(key, job.KindRemove, start, job.StatusFailed,
						"drain failed and deletion after a failed drain is disabled",
						func(j *job.Job) { j.RemoveResult = res })
					return
				}
			}

			delRes, delErr := s.kube.DeleteNode(ctx, hostname)
			cluster.Delete = job.StepResult{
				Attempted: true,
				Succeeded: delErr == nil && delRes.Success(),
				Output:    delRes,
			}
			if !cluster.Delete.Succeeded {
				// Recorded and carried on: the inventory entry still has to
				// go, and the step outcome stays visible in the job record.
				s.logger.Warn("Node deletion from the cluster failed", "hostname", hostname, "error", delErr)
			}
		} else {
			s.logger.Info("Node not registered in cluster, skipping drain and delete", "hostname", hostname)
		}
	}

	removed, err := s.inv.RemoveHost(hostname)
	if err != nil {
		s.finish(key, job.KindRemove, start, job.StatusFailed, err.Error(),
			func(j *job.Job) { j.RemoveResult = res })
		return
	}
	if removed {
		s.recordMutation("remove_host")
	}
	res.Inventory = removed

	message := "node removed"
	if !removed {
		message = "node was not present in inventory"
	}
	if res.Kubernetes != nil && res.Kubernetes.Delete.Attempted && !res.Kubernetes.Delete.Succeeded {
		message += "; cluster deletion did not succeed"
	}
	s.finish(key, job.KindRemove, start, job.StatusCompleted, message,
		func(j *job.Job) { j.RemoveResult = res })
}

// finish applies the terminal transition, records metrics and publishes the
// webhook event.
func (s *Service) finish(key string, kind job.Kind, start time.Time, status job.Status, message string, mutate func(*job.Job)) {
	s.jobs.Transition(key, status, message, mutate)

	success := status == job.StatusCompleted
	if success {
		s.logger.Info("Workflow completed", "key", key, "message", message)
	} else {
		s.logger.Error("Workflow failed", "key", key, "message", message)
	}

	if s.metrics != nil {
		s.metrics.RecordJobCompleted(context.Background(), string(kind), success, time.Since(start).Seconds())
	}
	if s.events != nil {
		if snap, ok := s.jobs.Get(key); ok {
			if err := s.events.Publish(notifier.JobEvent(snap)); err != nil {
				s.logger.Warn("Event not published", "key", key, "error", err)
			}
		}
	}
}

func (s *Service) recordCreated(kind job.Kind) {
	if s.metrics != nil {
		s.metrics.RecordJobCreated(context.Background(), string(kind))
	}
}

func (s *Service) recordMutation(op string) {
	if s.metrics != nil {
		s.metrics.RecordInventoryMutation(context.Background(), op)
	}
}
