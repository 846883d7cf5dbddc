package chef

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return &Builder{
		URL:         "git@example.com:cookbooks/platform.git",
		Branch:      "master",
		Role:        "webserver",
		Environment: "staging",
		NodeName:    "bake-node",
		RemoteRoot:  "/var/chef",
	}
}

// fakeClone returns a run func that simulates 'git clone' by creating the
// checkout directory populated with 'dirs', and records every invocation.
func fakeClone(t *testing.T, dirs []string, calls *[][]string) func(context.Context, string, string, ...string) error {
	return func(ctx context.Context, dir, name string, args ...string) error {
		*calls = append(*calls, append([]string{name}, args...))
		if name != "git" {
			return nil
		}
		repoDir := args[len(args)-1]
		for _, d := range dirs {
			require.NoError(t, os.MkdirAll(filepath.Join(repoDir, d), 0o755))
		}
		require.NoError(t, os.WriteFile(
			filepath.Join(repoDir, dirs[0], "placeholder.rb"), []byte("# recipe\n"), 0o644,
		))
		return nil
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	var calls [][]string
	b := testBuilder()
	b.run = fakeClone(t, []string{"cookbooks", "roles"}, &calls)

	payload, err := b.Build(t.Context(), dir)
	require.NoError(t, err)

	// The clone must request the configured branch.
	require.NotEmpty(t, calls)
	assert.Equal(t, "git", calls[0][0])
	assert.Contains(t, calls[0], "master")
	assert.Contains(t, calls[0], b.URL)

	// solo.rb carries the node name, environment and remote paths.
	soloConfig, err := os.ReadFile(payload.SoloConfig)
	require.NoError(t, err)
	assert.Contains(t, string(soloConfig), `node_name "bake-node"`)
	assert.Contains(t, string(soloConfig), `environment "staging"`)
	assert.Contains(t, string(soloConfig), `cookbook_path "/var/chef/cookbooks"`)
	assert.Contains(t, string(soloConfig), `json_attribs "/var/chef/dna.json"`)

	// The attributes document's run list is the requested role.
	var doc struct {
		RunList []string `json:"run_list"`
	}
	attributes, err := os.ReadFile(payload.Attributes)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(attributes, &doc))
	assert.Equal(t, []string{"role[webserver]"}, doc.RunList)

	// The archive holds the packed trees, relative to the checkout root.
	names := archiveEntries(t, payload.Archive)
	assert.Contains(t, names, "cookbooks/placeholder.rb")
}

func TestBuildNoEnvironment(t *testing.T) {
	// The environment field is optional; an unset value must not render an
	// empty environment name for chef-solo to choke on.
	dir := t.TempDir()
	var calls [][]string
	b := testBuilder()
	b.Environment = ""
	b.run = fakeClone(t, []string{"cookbooks"}, &calls)

	payload, err := b.Build(t.Context(), dir)
	require.NoError(t, err)

	soloConfig, err := os.ReadFile(payload.SoloConfig)
	require.NoError(t, err)
	// environment_path is still rendered; the environment directive is not.
	assert.NotContains(t, string(soloConfig), "\nenvironment \"")
	assert.Contains(t, string(soloConfig), `node_name "bake-node"`)
	assert.Contains(t, string(soloConfig), `cookbook_path "/var/chef/cookbooks"`)
}

func TestBuildCloneFailure(t *testing.T) {
	b := testBuilder()
	b.run = func(ctx context.Context, dir, name string, args ...string) error {
		return fmt.Errorf("exit status 128")
	}
	_, err := b.Build(t.Context(), t.TempDir())
	require.ErrorIs(t, err, ErrRepoFetch)
}

func TestBuildBerksResolution(t *testing.T) {
	dir := t.TempDir()
	var calls [][]string
	b := testBuilder()
	b.run = func(ctx context.Context, wd, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		if name != "git" {
			return nil
		}
		repoDir := args[len(args)-1]
		require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "cookbooks"), 0o755))
		// Presence of a Berksfile should trigger dependency vendoring.
		require.NoError(t, os.WriteFile(filepath.Join(repoDir, "Berksfile"), []byte("source 'https://supermarket.chef.io'\n"), 0o644))
		return nil
	}

	_, err := b.Build(t.Context(), dir)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "berks", calls[1][0])
	assert.Equal(t, "vendor", calls[1][1])
}

func TestBuildNoConvergenceInputs(t *testing.T) {
	b := testBuilder()
	b.run = func(ctx context.Context, dir, name string, args ...string) error {
		// Simulate a clone that produced an empty checkout.
		if name == "git" {
			return os.MkdirAll(args[len(args)-1], 0o755)
		}
		return nil
	}
	_, err := b.Build(t.Context(), t.TempDir())
	require.ErrorIs(t, err, ErrArchiveEmpty)
}

func archiveEntries(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}
