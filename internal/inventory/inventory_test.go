package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"nodescaler/internal/apperrors"
)

const fixture = `all:
  hosts:
    master-1:
      ansible_host: 10.0.0.2
      ip: 10.0.0.2
      access_ip: 10.0.0.2
    worker-1:
      ansible_host: 10.0.0.3
      ip: 10.0.0.3
      access_ip: 10.0.0.3
  children:
    kube_control_plane:
      hosts:
        master-1:
    kube_node:
      hosts:
        worker-1:
    etcd:
      hosts:
        master-1:
    k8s_cluster:
      children:
        kube_control_plane:
        kube_node:
  vars:
    ansible_shell_executable: /bin/bash
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewStore(path)
}

func backupCount(t *testing.T, store *Store) int {
	t.Helper()
	matches, err := filepath.Glob(store.Path() + ".backup.*")
	if err != nil {
		t.Fatal(err)
	}
	return len(matches)
}

func TestStore_AddHost(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	added, err := store.AddHost("worker-2", "10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Error("expected host to be added")
	}
	if backupCount(t, store) != 1 {
		t.Errorf("expected 1 backup, got %d", backupCount(t, store))
	}

	f, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	host, ok := f.All.Hosts["worker-2"]
	if !ok {
		t.Fatal("worker-2 missing from hosts")
	}
	if host.AnsibleHost != "10.0.0.5" || host.IP != "10.0.0.5" || host.AccessIP != "10.0.0.5" {
		t.Errorf("unexpected host attributes: %+v", host)
	}
	if !f.inGroup(GroupWorkers, "worker-2") {
		t.Error("worker-2 missing from kube_node group")
	}
}

func TestStore_AddHost_Idempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if _, err := store.AddHost("worker-2", "10.0.0.5"); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}

	added, err := store.AddHost("worker-2", "10.0.0.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Error("second AddHost must report already present")
	}
	// A backup still precedes every mutating call.
	if backupCount(t, store) != 2 {
		t.Errorf("expected 2 backups, got %d", backupCount(t, store))
	}

	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("no-op AddHost must not change the inventory content")
	}
}

func TestStore_AddHost_ControlPlaneMemberUntouched(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	doc := `all:
  hosts:
    master-1:
      ansible_host: 10.0.0.2
      ansible_user: root
  children:
    kube_control_plane:
      hosts:
        master-1:
    etcd:
      hosts:
        master-1:
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(path)

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	added, err := store.AddHost("master-1", "10.9.9.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Error("adding an existing control-plane member must report already present")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("existing host entry must not be rewritten")
	}

	f, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	host := f.All.Hosts["master-1"]
	if host == nil {
		t.Fatal("master-1 missing after AddHost")
	}
	if host.AnsibleHost != "10.0.0.2" {
		t.Errorf("ansible_host overwritten: got %q, want 10.0.0.2", host.AnsibleHost)
	}
	if host.Extra["ansible_user"] != "root" {
		t.Errorf("operator-managed attribute dropped: %+v", host.Extra)
	}
	if f.inGroup(GroupWorkers, "master-1") {
		t.Error("control-plane member must not be enrolled in the worker group")
	}
}

func TestStore_RemoveHost_ControlPlaneProtected(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.RemoveHost("master-1")
	if !errors.Is(err, apperrors.ErrProtected) {
		t.Fatalf("expected ErrProtected, got %v", err)
	}

	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("inventory file must be byte-identical after a protected-role rejection")
	}
	if backupCount(t, store) != 0 {
		t.Error("protected-role rejection must not write a backup")
	}
}

func TestStore_RemoveHost(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	removed, err := store.RemoveHost("worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Error("expected worker-1 to be removed")
	}

	f, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if f.HasHost("worker-1") {
		t.Error("worker-1 still in hosts")
	}
	if f.inGroup(GroupWorkers, "worker-1") {
		t.Error("worker-1 still in kube_node group")
	}
	// Unrelated membership untouched.
	if !f.inGroup(GroupControlPlane, "master-1") {
		t.Error("master-1 lost from control-plane group")
	}
}

func TestStore_RemoveHost_Absent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}

	removed, err := store.RemoveHost("ghost-1")
	if err != nil {
		t.Fatalf("removal of an absent host must not error, got %v", err)
	}
	if removed {
		t.Error("expected removed=false for absent host")
	}

	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("absent-host removal must not change the inventory content")
	}
}

func TestStore_Reconcile_ControlPlaneNeverTouched(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	doc := `all:
  hosts:
    apps-master:
      ansible_host: 10.0.0.2
    worker-1:
      ansible_host: 10.0.0.3
  children:
    kube_control_plane:
      hosts:
        apps-master:
    kube_node:
      hosts:
        worker-1:
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(path)

	// apps-master carries the managed prefix and is absent from the desired
	// set, but control-plane membership protects it. The desired set also
	// names it, which must not enroll it as a worker.
	added, removed, err := store.Reconcile("apps-", map[string]string{
		"apps-master": "10.9.9.9",
		"apps-1":      "10.0.1.10",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 1 || removed != 0 {
		t.Errorf("added=%d removed=%d, want 1 and 0", added, removed)
	}

	f, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !f.HasHost("apps-master") {
		t.Error("control-plane member must survive reconciliation")
	}
	if f.inGroup(GroupWorkers, "apps-master") {
		t.Error("control-plane member must not be enrolled as a worker")
	}
	if host := f.All.Hosts["apps-master"]; host == nil || host.AnsibleHost != "10.0.0.2" {
		t.Errorf("control-plane entry rewritten: %+v", host)
	}
	if !f.inGroup(GroupWorkers, "apps-1") {
		t.Error("apps-1 missing from the worker group")
	}
}

func TestStore_BackupsNeverOverwritten(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	// Multiple mutations inside the same timestamp second must produce
	// distinct backup files.
	for i := 0; i < 3; i++ {
		if _, err := store.AddHost("worker-2", "10.0.0.5"); err != nil {
			t.Fatal(err)
		}
	}
	if got := backupCount(t, store); got != 3 {
		t.Errorf("expected 3 distinct backups, got %d", got)
	}
}

func TestStore_IsControlPlane(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	tests := []struct {
		hostname string
		want     bool
	}{
		{"master-1", true},
		{"worker-1", false},
		{"ghost-1", false},
	}
	for _, tt := range tests {
		got, err := store.IsControlPlane(tt.hostname)
		if err != nil {
			t.Fatalf("IsControlPlane(%s): %v", tt.hostname, err)
		}
		if got != tt.want {
			t.Errorf("IsControlPlane(%s) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestStore_PreservesUnknownHostAttributes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	doc := `all:
  hosts:
    worker-1:
      ansible_host: 10.0.0.3
      ansible_user: root
  children:
    kube_node:
      hosts:
        worker-1:
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore(path)

	if _, err := store.AddHost("worker-2", "10.0.0.5"); err != nil {
		t.Fatal(err)
	}

	f, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	host := f.All.Hosts["worker-1"]
	if host == nil {
		t.Fatal("worker-1 missing after rewrite")
	}
	if host.Extra["ansible_user"] != "root" {
		t.Errorf("operator-managed attribute dropped on rewrite: %+v", host.Extra)
	}
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	f, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	stats := f.Stats()
	if stats.TotalHosts != 2 {
		t.Errorf("TotalHosts = %d, want 2", stats.TotalHosts)
	}
	if stats.ControlPlane != 1 {
		t.Errorf("ControlPlane = %d, want 1", stats.ControlPlane)
	}
	if stats.Workers != 1 {
		t.Errorf("Workers = %d, want 1", stats.Workers)
	}
}
