package scaler

import (
	"time"

	"nodescaler/internal/config"
	"nodescaler/internal/kube"
)

// Config holds node lifecycle workflow settings.
type Config struct {
	InventoryPath string // canonical hosts.yaml
	AnsiblePath   string // ansible-playbook binary
	PlaybookPath  string // playbook that joins a node to the cluster
	KubectlPath   string
	Kubeconfig    string

	ProvisionTimeout time.Duration // whole playbook run
	QueryTimeout     time.Duration // single kubectl query
	DrainTimeout     time.Duration // whole drain invocation
	DrainGrace       time.Duration // kubectl drain --timeout value

	VerifyAttempts    int           // readiness poll budget after provisioning
	VerifyInterval    time.Duration // initial poll interval, grows exponentially
	VerifyMaxInterval time.Duration

	// DeleteAfterFailedDrain keeps the node deletion going when the drain
	// fails. A node being decommissioned is usually unreachable, so draining
	// it times out; blocking removal on that would strand the record.
	DeleteAfterFailedDrain bool
}

// LoadConfig reads workflow settings from the environment.
func LoadConfig() *Config {
	return &Config{
		InventoryPath: config.GetEnv("INVENTORY_FILE", "/inventory/hosts.yaml"),
		AnsiblePath:   config.GetEnv("ANSIBLE_PLAYBOOK_BIN", "ansible-playbook"),
		PlaybookPath:  config.GetEnv("SCALE_PLAYBOOK", "scale.yml"),
		KubectlPath:   config.GetEnv("KUBECTL_BIN", "kubectl"),
		Kubeconfig:    config.GetEnv("KUBECONFIG_FILE", ""),

		ProvisionTimeout: config.GetDurationEnv("PROVISION_TIMEOUT", 30*time.Minute),
		QueryTimeout:     config.GetDurationEnv("KUBE_QUERY_TIMEOUT", 30*time.Second),
		DrainTimeout:     config.GetDurationEnv("DRAIN_TIMEOUT", 10*time.Minute),
		DrainGrace:       config.GetDurationEnv("DRAIN_GRACE", 5*time.Minute),

		VerifyAttempts:    config.GetIntEnv("VERIFY_ATTEMPTS", 30),
		VerifyInterval:    config.GetDurationEnv("VERIFY_INTERVAL", 10*time.Second),
		VerifyMaxInterval: config.GetDurationEnv("VERIFY_MAX_INTERVAL", time.Minute),

		DeleteAfterFailedDrain: config.GetBoolEnv("SCALER_DELETE_AFTER_FAILED_DRAIN", true),
	}
}

// KubeConfig derives the cluster client settings.
func (c *Config) KubeConfig() kube.Config {
	return kube.Config{
		KubectlPath:  c.KubectlPath,
		Kubeconfig:   c.Kubeconfig,
		QueryTimeout: c.QueryTimeout,
		DrainTimeout: c.DrainTimeout,
		DrainGrace:   c.DrainGrace,
	}
}

// PollerConfig derives the readiness poll settings.
func (c *Config) PollerConfig() kube.PollerConfig {
	return kube.PollerConfig{
		MaxAttempts: c.VerifyAttempts,
		Interval:    c.VerifyInterval,
		MaxInterval: c.VerifyMaxInterval,
	}
}
