package bake

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "t3.medium", cfg.InstanceType)
	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, "ubuntu", cfg.SSHUser)
	assert.Equal(t, int32(22), cfg.SSHPort)
	assert.Equal(t, "master", cfg.ChefBranch)
	assert.Equal(t, 30, cfg.ProbeAttempts)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 60*time.Second, cfg.ImagePollInterval)
	// The version tag defaults to a timestamp.
	assert.NotEmpty(t, cfg.Version)
	_, err := time.Parse("20060102-150405", cfg.Version)
	assert.NoError(t, err)
}

func TestApplyDefaultsEnv(t *testing.T) {
	t.Setenv(envRootVolumeSize, "80")
	t.Setenv(envDebug, "1")
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, int32(80), cfg.RootVolumeSize)
	assert.True(t, cfg.Debug)
}

func TestValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	missing := testConfig()
	missing.ChefRole = ""
	require.Error(t, missing.Validate())

	missing = testConfig()
	missing.SourceAMI = ""
	require.Error(t, missing.Validate())

	// Out-of-range ports would be silently truncated at dial time.
	badPort := testConfig()
	badPort.SSHPort = 65536
	require.Error(t, badPort.Validate())

	badPort = testConfig()
	badPort.SSHPort = -1
	require.Error(t, badPort.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: web
source_ami: ami-base
subnet_id: subnet-1
security_group_id: sg-1
key_name: bake
key_path: /home/ci/.ssh/bake
chef_url: git@example.com:cookbooks.git
chef_role: webserver
chef_environment: staging
terminate: false
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "web", cfg.Name)
	assert.Equal(t, "staging", cfg.ChefEnvironment)
	assert.False(t, cfg.Terminate)

	// Terminate defaults true when the file doesn't mention it.
	path2 := filepath.Join(t.TempDir(), "build.yaml")
	require.NoError(t, os.WriteFile(path2, []byte("name: web\n"), 0o644))
	cfg, err = LoadFile(path2)
	require.NoError(t, err)
	assert.True(t, cfg.Terminate)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestImageName(t *testing.T) {
	cfg := Config{Name: "web", Version: "20260831-120000"}
	assert.Equal(t, "web-20260831-120000", cfg.ImageName())
}
