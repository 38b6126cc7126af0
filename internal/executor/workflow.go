package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"codechat/internal/directive"
	"codechat/internal/logging"

	"gopkg.in/yaml.v3"
)

// ConfigStore persists workflow and deployment configuration as YAML
// artifacts under the workspace's .codechat directory.
type ConfigStore struct {
	dir string
}

// NewConfigStore returns a store writing under root/.codechat.
func NewConfigStore(root string) *ConfigStore {
	return &ConfigStore{dir: filepath.Join(root, ".codechat")}
}

// workflowFile is the on-disk shape of workflows.yaml.
type workflowFile struct {
	Workflows []directive.WorkflowConfig `yaml:"workflows"`
}

// ConfigureWorkflow upserts a workflow by name into workflows.yaml.
func (s *ConfigStore) ConfigureWorkflow(ctx context.Context, cfg directive.WorkflowConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg.Name == "" {
		return fmt.Errorf("workflow name required")
	}

	path := filepath.Join(s.dir, "workflows.yaml")
	var file workflowFile
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	replaced := false
	for i, existing := range file.Workflows {
		if existing.Name == cfg.Name {
			file.Workflows[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		file.Workflows = append(file.Workflows, cfg)
	}

	if err := s.write(path, file); err != nil {
		return err
	}
	logging.Executor("ConfigStore: workflow %q configured (%d commands, %s)", cfg.Name, len(cfg.Commands), cfg.Mode)
	return nil
}

// ConfigureDeployment overwrites deployment.yaml with the latest proposal.
func (s *ConfigStore) ConfigureDeployment(ctx context.Context, cfg directive.DeploymentConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg.RunCommand == "" {
		return fmt.Errorf("deployment run command required")
	}

	path := filepath.Join(s.dir, "deployment.yaml")
	if err := s.write(path, cfg); err != nil {
		return err
	}
	logging.Executor("ConfigStore: deployment configured run=%q build=%q", cfg.RunCommand, cfg.BuildCommand)
	return nil
}

// LoadWorkflows reads back the configured workflows, if any.
func (s *ConfigStore) LoadWorkflows() ([]directive.WorkflowConfig, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "workflows.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflows.yaml: %w", err)
	}
	return file.Workflows, nil
}

// LoadDeployment reads back the deployment config, if configured.
func (s *ConfigStore) LoadDeployment() (*directive.DeploymentConfig, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "deployment.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg directive.DeploymentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse deployment.yaml: %w", err)
	}
	return &cfg, nil
}

func (s *ConfigStore) write(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
