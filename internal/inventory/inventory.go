// Package inventory manages the persisted ansible inventory (hosts.yaml).
//
// The inventory is the single persisted artifact of the scaler. Every mutation
// follows the same protocol: copy the current file to a timestamped backup
// that is never overwritten, then serialize the new state and atomically
// replace the canonical file (write temp, rename). A crash mid-write leaves
// the previous inventory intact. All mutations are serialized by one mutex.
package inventory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"nodescaler/internal/apperrors"
)

// Distinguished inventory groups. Membership in the control-plane group makes
// a host immune to removal through this system.
const (
	GroupControlPlane = "kube_control_plane"
	GroupWorkers      = "kube_node"
	GroupEtcd         = "etcd"
)

// File is the root of a kubespray-style inventory document.
type File struct {
	All Group `yaml:"all"`
}

// Group holds hosts, nested child groups and group vars.
type Group struct {
	Hosts    map[string]*Host  `yaml:"hosts,omitempty"`
	Children map[string]*Group `yaml:"children,omitempty"`
	Vars     map[string]any    `yaml:"vars,omitempty"`
}

// Host carries per-host connection attributes. Unknown attributes are kept
// inline so a rewrite never drops operator-managed fields.
type Host struct {
	AnsibleHost string         `yaml:"ansible_host,omitempty"`
	IP          string         `yaml:"ip,omitempty"`
	AccessIP    string         `yaml:"access_ip,omitempty"`
	Extra       map[string]any `yaml:",inline"`
}

// Stats summarizes inventory membership for status endpoints.
type Stats struct {
	TotalHosts   int `json:"total_hosts"`
	ControlPlane int `json:"control_plane_hosts"`
	Workers      int `json:"worker_hosts"`
}

// Stats counts hosts by distinguished group.
func (f *File) Stats() Stats {
	return Stats{
		TotalHosts:   len(f.All.Hosts),
		ControlPlane: len(f.group(GroupControlPlane)),
		Workers:      len(f.group(GroupWorkers)),
	}
}

// group returns the host set of a child group, nil-safe.
func (f *File) group(name string) map[string]*Host {
	g, ok := f.All.Children[name]
	if !ok || g == nil {
		return nil
	}
	return g.Hosts
}

func (f *File) inGroup(name, hostname string) bool {
	hosts := f.group(name)
	if hosts == nil {
		return false
	}
	_, ok := hosts[hostname]
	return ok
}

// HasHost reports whether the host appears in the top-level host map.
func (f *File) HasHost(hostname string) bool {
	_, ok := f.All.Hosts[hostname]
	return ok
}

// Store is a typed accessor over the persisted inventory file.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a store over the inventory file at path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: slog.With("component", "inventory"),
		now:    time.Now,
	}
}

// Path returns the canonical inventory file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot loads and returns the current inventory document.
func (s *Store) Snapshot() (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// IsControlPlane reports whether the host is a control-plane group member.
func (s *Store) IsControlPlane(hostname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return false, err
	}
	return f.inGroup(GroupControlPlane, hostname), nil
}

// AddHost inserts the host into the worker group with its address attributes.
// Any host already known to the inventory, in whatever role, is left untouched
// and reported as added=false: overwriting an existing entry would drop its
// operator-managed attributes and could enroll a control-plane member as a
// worker. A backup of the current file is taken before the membership check,
// so every mutating call leaves an audit copy behind.
func (s *Store) AddHost(hostname, ip string) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return false, err
	}

	if err := s.backup(); err != nil {
		return false, err
	}

	if f.HasHost(hostname) || s.inAnyGroup(f, hostname) {
		s.logger.Info("Host already present in inventory", "hostname", hostname)
		return false, nil
	}

	if f.All.Hosts == nil {
		f.All.Hosts = make(map[string]*Host)
	}
	f.All.Hosts[hostname] = &Host{
		AnsibleHost: ip,
		IP:          ip,
		AccessIP:    ip,
	}

	workers := f.ensureGroup(GroupWorkers)
	workers.Hosts[hostname] = nil

	if err := s.persist(f); err != nil {
		return false, err
	}

	s.logger.Info("Host added to inventory", "hostname", hostname, "ip", ip)
	return true, nil
}

// RemoveHost removes the host from the top-level host map and from whichever
// groups it belongs to. Removing a control-plane member fails closed with a
// protected-role error before any file is touched. Removing an absent host is
// a success no-op and returns removed=false.
func (s *Store) RemoveHost(hostname string) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return false, err
	}

	if f.inGroup(GroupControlPlane, hostname) {
		return false, apperrors.Protected(hostname)
	}

	if err := s.backup(); err != nil {
		return false, err
	}

	if !f.HasHost(hostname) && !s.inAnyGroup(f, hostname) {
		s.logger.Info("Host not present in inventory, nothing to remove", "hostname", hostname)
		return false, nil
	}

	delete(f.All.Hosts, hostname)
	for name, g := range f.All.Children {
		if g == nil || name == GroupControlPlane {
			continue
		}
		delete(g.Hosts, hostname)
	}

	if err := s.persist(f); err != nil {
		return false, err
	}

	s.logger.Info("Host removed from inventory", "hostname", hostname)
	return true, nil
}

// Reconcile aligns provider-managed membership with the desired host set
// (hostname to address). Hosts carrying the managed prefix that the provider
// no longer reports are removed; desired hosts missing from the worker group
// are enrolled, new ones with root access the way autoscaled nodes come up.
// Static entries and control-plane members are never touched. The backup is
// taken only when the document actually changes, so a periodic no-op pass
// leaves no trace.
func (s *Store) Reconcile(prefix string, desired map[string]string) (added, removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return 0, 0, err
	}

	var stale []string
	for name := range f.All.Hosts {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := desired[name]; ok {
			continue
		}
		if f.inGroup(GroupControlPlane, name) {
			continue
		}
		stale = append(stale, name)
	}

	var missing []string
	for name := range desired {
		if f.inGroup(GroupControlPlane, name) {
			continue
		}
		if f.HasHost(name) && f.inGroup(GroupWorkers, name) {
			continue
		}
		missing = append(missing, name)
	}

	if len(stale) == 0 && len(missing) == 0 {
		return 0, 0, nil
	}

	if err := s.backup(); err != nil {
		return 0, 0, err
	}

	for _, name := range stale {
		delete(f.All.Hosts, name)
		for gname, g := range f.All.Children {
			if g == nil || gname == GroupControlPlane {
				continue
			}
			delete(g.Hosts, name)
		}
		removed++
	}

	if f.All.Hosts == nil {
		f.All.Hosts = make(map[string]*Host)
	}
	workers := f.ensureGroup(GroupWorkers)
	for _, name := range missing {
		ip := desired[name]
		if f.All.Hosts[name] == nil {
			f.All.Hosts[name] = &Host{
				AnsibleHost: ip,
				IP:          ip,
				AccessIP:    ip,
				Extra:       map[string]any{"ansible_user": "root"},
			}
		}
		workers.Hosts[name] = nil
		added++
	}

	if err := s.persist(f); err != nil {
		return 0, 0, err
	}

	s.logger.Info("Inventory reconciled with provider", "added", added, "removed", removed)
	return added, removed, nil
}

func (s *Store) inAnyGroup(f *File, hostname string) bool {
	for _, g := range f.All.Children {
		if g == nil {
			continue
		}
		if _, ok := g.Hosts[hostname]; ok {
			return true
		}
	}
	return false
}

func (f *File) ensureGroup(name string) *Group {
	if f.All.Children == nil {
		f.All.Children = make(map[string]*Group)
	}
	g, ok := f.All.Children[name]
	if !ok || g == nil {
		g = &Group{}
		f.All.Children[name] = g
	}
	if g.Hosts == nil {
		g.Hosts = make(map[string]*Host)
	}
	return g
}

func (s *Store) load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperrors.Internal("inventory.load", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Internal("inventory.parse", err)
	}
	return &f, nil
}

// backup copies the current canonical file to a timestamp-suffixed sibling.
// An existing backup is never overwritten: collisions within the same second
// get a numeric suffix. A backup failure aborts the mutation.
func (s *Store) backup() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return apperrors.Internal("inventory.backup", err)
	}

	stamp := s.now().Format("20060102_150405")
	name := fmt.Sprintf("%s.backup.%s", s.path, stamp)
	for n := 1; ; n++ {
		fh, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fh.Write(data)
			cerr := fh.Close()
			if werr != nil {
				return apperrors.Internal("inventory.backup", werr)
			}
			if cerr != nil {
				return apperrors.Internal("inventory.backup", cerr)
			}
			s.logger.Info("Inventory backup written", "path", name)
			return nil
		}
		if !os.IsExist(err) {
			return apperrors.Internal("inventory.backup", err)
		}
		name = fmt.Sprintf("%s.backup.%s_%d", s.path, stamp, n)
	}
}

// persist serializes the document to a temp file in the same directory and
// atomically replaces the canonical file. The old file stays valid until the
// rename succeeds.
func (s *Store) persist(f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return apperrors.Internal("inventory.serialize", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".hosts-*.yaml")
	if err != nil {
		return apperrors.Internal("inventory.persist", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.Internal("inventory.persist", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.Internal("inventory.persist", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.Internal("inventory.persist", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return apperrors.Internal("inventory.persist", err)
	}
	return nil
}
