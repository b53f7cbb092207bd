// Package job defines node lifecycle jobs and the in-memory job table.
package job

import (
	"fmt"
	"net"
	"regexp"
	"time"

	"nodescaler/internal/apperrors"
	"nodescaler/internal/executor"
	"nodescaler/internal/kube"
)

// Kind discriminates the workflow a job executes and therefore which result
// variant it carries.
type Kind string

const (
	KindAdd    Kind = "add"
	KindRemove Kind = "remove"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Key derives the job table key. The IP is folded in when present so the key
// matches what clients poll with; removal keys carry a prefix so add and
// remove jobs for the same node never collide.
func Key(kind Kind, hostname, ip string) string {
	key := hostname
	if ip != "" {
		key = hostname + "_" + ip
	}
	if kind == KindRemove {
		key = "remove_" + key
	}
	return key
}

// Job is one asynchronous execution of an add or remove workflow.
// It is owned by the Store; workflow goroutines mutate it only through
// Store.Transition and readers only see snapshots.
type Job struct {
	Key      string `json:"key"`
	Kind     Kind   `json:"kind"`
	Hostname string `json:"hostname"`
	IP       string `json:"ip,omitempty"`

	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result variant, discriminated by Kind.
	AddResult    *AddResult    `json:"add_result,omitempty"`
	RemoveResult *RemoveResult `json:"remove_result,omitempty"`

	// Output is the raw captured output of the workflow's decisive external
	// invocation, retained for offline diagnosis.
	Output *executor.Result `json:"output,omitempty"`
}

// AddResult is the payload of a finished add workflow.
type AddResult struct {
	NodeStatus *kube.Snapshot `json:"node_status,omitempty"`
}

// StepResult records one sub-step of the remove workflow. Steps are recorded
// independently: a failed step does not erase the outcome of the next one.
type StepResult struct {
	Attempted bool             `json:"attempted"`
	Succeeded bool             `json:"succeeded"`
	Output    *executor.Result `json:"output,omitempty"`
}

// ClusterRemoval aggregates the cluster-side steps of a remove workflow.
type ClusterRemoval struct {
	Exists bool       `json:"exists"`
	Drain  StepResult `json:"drain"`
	Delete StepResult `json:"delete"`
}

// RemoveResult is the payload of a finished remove workflow. Kubernetes is
// nil when cluster removal was skipped by request.
type RemoveResult struct {
	Kubernetes *ClusterRemoval `json:"kubernetes,omitempty"`
	Inventory  bool            `json:"inventory"`
}

// AddRequest asks for a node to be joined to the cluster.
type AddRequest struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
}

// RemoveRequest asks for a node to be removed.
type RemoveRequest struct {
	Hostname           string `json:"hostname"`
	IP                 string `json:"ip,omitempty"`
	SkipClusterRemoval bool   `json:"skip_cluster_removal,omitempty"`
}

// Submitted is returned when a workflow has been accepted.
type Submitted struct {
	Key    string `json:"key"`
	Status Status `json:"status"`
}

const maxHostnameLength = 253

// hostnamePattern allows DNS-label style names.
var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)

// ValidateHostname checks the hostname field of a request.
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return apperrors.Validation("hostname", "hostname is required")
	}
	if len(hostname) > maxHostnameLength {
		return apperrors.Validation("hostname", fmt.Sprintf("hostname exceeds maximum length of %d", maxHostnameLength))
	}
	if !hostnamePattern.MatchString(hostname) {
		return apperrors.Validation("hostname", "hostname must be a lowercase DNS name")
	}
	return nil
}

// ValidateIP checks an IP field. Empty is allowed when required is false.
func ValidateIP(ip string, required bool) error {
	if ip == "" {
		if required {
			return apperrors.Validation("ip", "ip is required")
		}
		return nil
	}
	if net.ParseIP(ip) == nil {
		return apperrors.Validation("ip", fmt.Sprintf("invalid ip address %q", ip))
	}
	return nil
}
