package cloudsync

import (
	"context"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Hetzner lists the autoscaled node group from the Hetzner Cloud API.
type Hetzner struct {
	client    *hcloud.Client
	networkID int64
	selector  string
}

// NewHetzner creates the provider from the sync configuration.
func NewHetzner(cfg *Config) *Hetzner {
	return &Hetzner{
		client:    hcloud.NewClient(hcloud.WithToken(cfg.Token)),
		networkID: cfg.NetworkID,
		selector:  cfg.LabelSelector,
	}
}

// Servers returns the servers matching the node-group label selector.
func (h *Hetzner) Servers(ctx context.Context) ([]Server, error) {
	servers, err := h.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: h.selector},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Server, 0, len(servers))
	for _, srv := range servers {
		out = append(out, Server{Name: srv.Name, IP: h.serverIP(srv)})
	}
	return out, nil
}

// serverIP picks the address the cluster reaches the node on: the attachment
// on the cluster network first, then any private network, then the public
// IPv4. Empty when the server has no address at all.
func (h *Hetzner) serverIP(srv *hcloud.Server) string {
	for _, pn := range srv.PrivateNet {
		if pn.Network != nil && pn.Network.ID == h.networkID && pn.IP != nil {
			return pn.IP.String()
		}
	}
	for _, pn := range srv.PrivateNet {
		if pn.IP != nil {
			return pn.IP.String()
		}
	}
	if srv.PublicNet.IPv4.IP != nil && !srv.PublicNet.IPv4.IP.IsUnspecified() {
		return srv.PublicNet.IPv4.IP.String()
	}
	return ""
}
