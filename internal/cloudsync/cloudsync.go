// Package cloudsync keeps the inventory aligned with autoscaled cloud
// servers.
//
// A cluster autoscaler creates and deletes worker servers at the provider
// without going through this API. The syncer lists the provider's view of the
// autoscaled node group and reconciles it into the inventory: servers the
// provider reports become worker hosts, hosts carrying the managed name
// prefix that the provider no longer reports are dropped. Static hosts and
// control-plane members are never touched.
package cloudsync

import (
	"context"
	"log/slog"
	"time"

	"nodescaler/internal/apperrors"
	"nodescaler/internal/config"
	"nodescaler/internal/inventory"
)

// Server is one provider-managed machine.
type Server struct {
	Name string
	IP   string
}

// Provider lists the autoscaled servers at the cloud API.
type Provider interface {
	Servers(ctx context.Context) ([]Server, error)
}

// Config holds the cloud sync settings.
type Config struct {
	Token         string        // provider API token; sync is disabled when empty
	NetworkID     int64         // private network the cluster runs on, for address preference
	LabelSelector string        // selects the autoscaled node group
	HostPrefix    string        // inventory name prefix owned by the provider
	Interval      time.Duration // periodic sync interval
	QueryTimeout  time.Duration // bound on one provider listing
}

// LoadConfig reads the cloud sync configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Token:         config.GetEnv("HCLOUD_TOKEN", ""),
		NetworkID:     int64(config.GetIntEnv("HCLOUD_NETWORK", 0)),
		LabelSelector: config.GetEnv("CLOUD_SYNC_LABEL", "hcloud/node-group=apps"),
		HostPrefix:    config.GetEnv("CLOUD_SYNC_PREFIX", "apps-"),
		Interval:      config.GetDurationEnv("CLOUD_SYNC_INTERVAL", 10*time.Minute),
		QueryTimeout:  config.GetDurationEnv("CLOUD_SYNC_QUERY_TIMEOUT", 30*time.Second),
	}
}

// Enabled reports whether a provider is configured.
func (c *Config) Enabled() bool {
	return c.Token != ""
}

// Result summarizes one reconcile pass.
type Result struct {
	Servers      int `json:"servers"`
	HostsAdded   int `json:"hosts_added"`
	HostsRemoved int `json:"hosts_removed"`
}

// Syncer reconciles the provider's server list into the inventory store.
type Syncer struct {
	provider Provider
	inv      *inventory.Store
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSyncer wires a syncer over the provider and the inventory store.
func NewSyncer(provider Provider, inv *inventory.Store, cfg *Config) *Syncer {
	return &Syncer{
		provider: provider,
		inv:      inv,
		prefix:   cfg.HostPrefix,
		timeout:  cfg.QueryTimeout,
		logger:   slog.With("component", "cloudsync"),
	}
}

// Sync lists the autoscaled servers and reconciles the inventory once.
// Servers without a usable address are skipped rather than enrolled broken.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	listCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	servers, err := s.provider.Servers(listCtx)
	if err != nil {
		return nil, apperrors.Internal("cloudsync.list", err)
	}

	desired := make(map[string]string, len(servers))
	for _, srv := range servers {
		if srv.IP == "" {
			s.logger.Warn("Server has no usable address, skipped", "server", srv.Name)
			continue
		}
		desired[srv.Name] = srv.IP
	}

	added, removed, err := s.inv.Reconcile(s.prefix, desired)
	if err != nil {
		return nil, err
	}
	if added > 0 || removed > 0 {
		s.logger.Info("Inventory synced from provider",
			"servers", len(servers), "added", added, "removed", removed)
	}

	return &Result{Servers: len(servers), HostsAdded: added, HostsRemoved: removed}, nil
}

// Run reconciles on the interval until the context is cancelled. Failures are
// logged and retried on the next tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("Periodic inventory sync failed", "error", err)
			}
		}
	}
}
