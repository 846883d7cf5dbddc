package chef

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/chainguard-dev/clog"
)

var (
	ErrRepoFetch    = fmt.Errorf("failed to fetch cookbook repository")
	ErrDepsResolve  = fmt.Errorf("failed to resolve cookbook dependencies")
	ErrRenderConfig = fmt.Errorf("failed to render chef-solo configuration")
)

// Payload holds the local paths of the three artifacts uploaded to the
// instance before the convergence run.
type Payload struct {
	// Archive is a tar.gz of the cookbook/role/environment/data bag
	// directories, unpacked remotely under the chef root.
	Archive string

	// SoloConfig is the rendered solo.rb.
	SoloConfig string

	// Attributes is the rendered JSON attributes/run-list document.
	Attributes string
}

// Builder assembles a Payload inside a working directory.
type Builder struct {
	// URL and Branch locate the cookbook repository.
	URL    string
	Branch string

	// Role, Environment and NodeName parameterize the convergence run.
	Role        string
	Environment string
	NodeName    string

	// RemoteRoot is the directory on the instance the archive will be
	// unpacked into and the rendered configuration refers to.
	RemoteRoot string

	// run executes an external command. Overridable in tests.
	run func(ctx context.Context, dir, name string, args ...string) error
}

// payloadDirs are the repository subdirectories that feed a chef-solo run.
// Missing directories are simply skipped; an empty intersection is fatal at
// archive time.
var payloadDirs = []string{"cookbooks", "roles", "environments", "data_bags"}

// Build produces the full payload under 'dir'.
//
// Steps, in order: clone the cookbook repository at the requested branch,
// vendor its cookbook dependencies, archive the convergence inputs, render
// solo.rb and the attributes document.
func (b *Builder) Build(ctx context.Context, dir string) (Payload, error) {
	log := clog.FromContext(ctx)
	run := b.run
	if run == nil {
		run = runCommand
	}

	repoDir := filepath.Join(dir, "chef-repo")
	log.Info("fetching cookbook repository", "url", b.URL, "branch", b.Branch)
	if err := run(ctx, dir,
		"git", "clone", "--depth", "1", "--branch", b.Branch, b.URL, repoDir,
	); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrRepoFetch, err)
	}

	// Resolve cookbook dependencies into the checkout's cookbooks directory.
	// A repository without a Berksfile is assumed to carry its cookbooks
	// directly.
	if _, err := os.Stat(filepath.Join(repoDir, "Berksfile")); err == nil {
		log.Info("vendoring cookbook dependencies")
		if err := run(ctx, repoDir,
			"berks", "vendor", filepath.Join(repoDir, "cookbooks"),
		); err != nil {
			return Payload{}, fmt.Errorf("%w: %w", ErrDepsResolve, err)
		}
	} else {
		log.Debug("no Berksfile present, skipping dependency resolution")
	}

	archive := filepath.Join(dir, "chef-payload.tar.gz")
	if err := archiveDirs(repoDir, payloadDirs, archive); err != nil {
		return Payload{}, err
	}
	log.Info("archived convergence inputs", "archive", archive)

	soloConfig := filepath.Join(dir, "solo.rb")
	if err := b.renderSoloConfig(soloConfig); err != nil {
		return Payload{}, err
	}

	attributes := filepath.Join(dir, "dna.json")
	if err := b.renderAttributes(attributes); err != nil {
		return Payload{}, err
	}

	return Payload{
		Archive:    archive,
		SoloConfig: soloConfig,
		Attributes: attributes,
	}, nil
}

// soloConfigTemplate is the chef-solo configuration rendered onto the
// instance. Paths are all relative to the remote chef root. The environment
// line is omitted entirely when no environment was requested; chef-solo then
// applies its own '_default'.
const soloConfigTemplate = `node_name "{{.NodeName}}"
{{- if .Environment}}
environment "{{.Environment}}"
{{- end}}
cookbook_path "{{.Root}}/cookbooks"
role_path "{{.Root}}/roles"
environment_path "{{.Root}}/environments"
data_bag_path "{{.Root}}/data_bags"
json_attribs "{{.Root}}/dna.json"
log_level :info
`

func (b *Builder) renderSoloConfig(path string) error {
	tmpl, err := template.New("solo.rb").Parse(soloConfigTemplate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderConfig, err)
	}
	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, struct {
		NodeName    string
		Environment string
		Root        string
	}{
		NodeName:    b.NodeName,
		Environment: b.Environment,
		Root:        b.RemoteRoot,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrRenderConfig, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrRenderConfig, err)
	}
	return nil
}

// renderAttributes writes the JSON attributes document carrying the run
// list. The run list is the single requested role.
func (b *Builder) renderAttributes(path string) error {
	doc := struct {
		RunList []string `json:"run_list"`
	}{
		RunList: []string{fmt.Sprintf("role[%s]", b.Role)},
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderConfig, err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrRenderConfig, err)
	}
	return nil
}

// runCommand executes an external tool, surfacing its combined output in the
// returned error on a non-zero exit.
func runCommand(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(out))
	}
	return nil
}
