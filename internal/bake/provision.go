package bake

import (
	"context"
	"fmt"
	"path"

	"github.com/chainguard-dev/clog"
	"github.com/kballard/go-shellquote"

	"github.com/amibake/amibake/internal/chef"
)

// remoteChefRoot is the directory on the instance the chef payload is
// unpacked into and the convergence run reads from.
const remoteChefRoot = "/var/chef"

// remoteStaging is where uploads land before being moved into place with
// elevated permissions. SFTP runs as the SSH user, which cannot write to
// remoteChefRoot directly.
const remoteStaging = "/tmp"

// chefInstall pipes the omnitruck installer into a root shell. This mirrors
// the vendor-documented install path for the chef client.
const chefInstall = "curl -fsSL https://omnitruck.chef.io/install.sh | sudo bash -s -- -P chef"

// provision converges the instance: update the OS package index, install the
// chef client, ship the payload, and run chef-solo against the rendered
// configuration. Every step is fatal on failure; there is no partial
// rollback, the abort path simply falls through to cleanup.
func (b *Baker) provision(ctx context.Context, conn remote, payload chef.Payload) error {
	log := clog.FromContext(ctx)

	archiveRemote := path.Join(remoteStaging, "chef-payload.tar.gz")
	soloRemote := path.Join(remoteStaging, "solo.rb")
	attributesRemote := path.Join(remoteStaging, "dna.json")

	steps := []struct {
		name string
		run  func() error
	}{
		{"update package index", func() error {
			return runRemote(conn, "sudo apt-get update -y")
		}},
		{"install chef client", func() error {
			return runRemote(conn, chefInstall)
		}},
		{"upload chef payload", func() error {
			return conn.Upload(payload.Archive, archiveRemote, 0o644)
		}},
		{"unpack chef payload", func() error {
			return runRemote(conn, shellquote.Join("sudo", "mkdir", "-p", remoteChefRoot)+
				" && "+shellquote.Join("sudo", "tar", "-xzf", archiveRemote, "-C", remoteChefRoot))
		}},
		{"upload solo configuration", func() error {
			return conn.Upload(payload.SoloConfig, soloRemote, 0o644)
		}},
		{"upload attributes", func() error {
			return conn.Upload(payload.Attributes, attributesRemote, 0o644)
		}},
		{"install configuration", func() error {
			return runRemote(conn, shellquote.Join(
				"sudo", "install", "-m", "0644",
				soloRemote, attributesRemote, remoteChefRoot,
			))
		}},
		{"run chef-solo", func() error {
			return runRemote(conn, shellquote.Join(
				"sudo", "chef-solo",
				"-c", path.Join(remoteChefRoot, "solo.rb"),
				"-j", path.Join(remoteChefRoot, "dna.json"),
			))
		}},
	}

	for _, step := range steps {
		log.Info("provisioning", "step", step.name)
		if err := step.run(); err != nil {
			return fmt.Errorf("provisioning step %q failed: %w", step.name, err)
		}
	}
	log.Info("provisioning complete")
	return nil
}

// acceptanceTest uploads and executes the caller-supplied test script. The
// step is a no-op when no script is configured; otherwise the script's exit
// status decides the step.
func (b *Baker) acceptanceTest(ctx context.Context, conn remote) error {
	log := clog.FromContext(ctx)
	if b.cfg.AcceptanceTest == "" {
		log.Debug("no acceptance test configured, skipping")
		return nil
	}

	scriptRemote := path.Join(remoteStaging, "acceptance-test")
	log.Info("running acceptance test", "script", b.cfg.AcceptanceTest)
	if err := conn.Upload(b.cfg.AcceptanceTest, scriptRemote, 0o755); err != nil {
		return fmt.Errorf("failed to upload acceptance test: %w", err)
	}
	if err := runRemote(conn, shellquote.Join(scriptRemote)); err != nil {
		return fmt.Errorf("acceptance test failed: %w", err)
	}
	log.Info("acceptance test passed")
	return nil
}

// runRemote executes 'cmd' on the instance, folding remote stderr into the
// returned error.
func runRemote(conn remote, cmd string) error {
	_, stderr, err := conn.Run(cmd)
	if err != nil {
		if stderr != "" {
			return fmt.Errorf("%w: %s", err, stderr)
		}
		return err
	}
	return nil
}
