package executor

import (
	"context"
	"testing"

	"codechat/internal/directive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_WorkflowUpsert(t *testing.T) {
	store := NewConfigStore(t.TempDir())
	ctx := context.Background()

	dev := directive.WorkflowConfig{
		Name:         "dev",
		Commands:     []string{"npm install", "npm run dev"},
		Mode:         directive.WorkflowSequential,
		SetRunButton: true,
	}
	require.NoError(t, store.ConfigureWorkflow(ctx, dev))

	test := directive.WorkflowConfig{
		Name:     "test",
		Commands: []string{"npm test"},
		Mode:     directive.WorkflowParallel,
	}
	require.NoError(t, store.ConfigureWorkflow(ctx, test))

	// Reconfiguring an existing name replaces it in place.
	dev.Commands = []string{"npm run dev"}
	require.NoError(t, store.ConfigureWorkflow(ctx, dev))

	workflows, err := store.LoadWorkflows()
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, dev, workflows[0])
	assert.Equal(t, test, workflows[1])
}

func TestConfigStore_WorkflowNameRequired(t *testing.T) {
	store := NewConfigStore(t.TempDir())
	err := store.ConfigureWorkflow(context.Background(), directive.WorkflowConfig{})
	assert.Error(t, err)
}

func TestConfigStore_Deployment(t *testing.T) {
	store := NewConfigStore(t.TempDir())
	ctx := context.Background()

	none, err := store.LoadDeployment()
	require.NoError(t, err)
	assert.Nil(t, none)

	cfg := directive.DeploymentConfig{BuildCommand: "npm run build", RunCommand: "node dist/index.js"}
	require.NoError(t, store.ConfigureDeployment(ctx, cfg))

	loaded, err := store.LoadDeployment()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cfg, *loaded)

	// Run command is mandatory.
	err = store.ConfigureDeployment(ctx, directive.DeploymentConfig{BuildCommand: "make"})
	assert.Error(t, err)
}

func TestInstallCommand(t *testing.T) {
	tests := []struct {
		name    string
		install directive.PackageInstall
		want    string
		wantErr bool
	}{
		{
			name:    "nodejs",
			install: directive.PackageInstall{Language: "nodejs", Packages: []string{"lodash", "axios"}},
			want:    "npm install lodash axios",
		},
		{
			name:    "python",
			install: directive.PackageInstall{Language: "python", Packages: []string{"requests"}},
			want:    "pip install requests",
		},
		{
			name:    "go",
			install: directive.PackageInstall{Language: "Go", Packages: []string{"github.com/google/uuid"}},
			want:    "go get github.com/google/uuid",
		},
		{
			name:    "unknown language",
			install: directive.PackageInstall{Language: "cobol", Packages: []string{"x"}},
			wantErr: true,
		},
		{
			name:    "no packages",
			install: directive.PackageInstall{Language: "nodejs"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InstallCommand(tt.install)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
