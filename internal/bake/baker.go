package bake

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/amibake/amibake/internal/chef"
	"github.com/amibake/amibake/internal/ssh"
)

// teardownTimeout bounds the cleanup pass. Teardown runs on a
// cancellation-insulated context so an interrupt that aborted the build
// cannot also abort the cleanup.
const teardownTimeout = 10 * time.Minute

// remote is the connection to a launched instance. '*ssh.Client' satisfies
// this; tests substitute fakes.
type remote interface {
	Run(cmd string) (stdout, stderr string, err error)
	Upload(local, remote string, mode fs.FileMode) error
	Close() error
}

type (
	dialFunc    func(host string) (remote, error)
	payloadFunc func(ctx context.Context, dir string) (chef.Payload, error)
)

// Baker drives one AMI build end to end.
type Baker struct {
	cfg Config
	api ec2API

	// dial and payload are the two seams between orchestration and the
	// outside world (SSH transport, local chef tooling).
	dial    dialFunc
	payload payloadFunc

	// stack accumulates destructors; destroyed on every exit path of Run.
	stack Stack

	// Handles produced by the pipeline. Written once, read by later stages.
	instanceID string
	instanceIP string
	imageID    string
}

// New constructs a Baker wired to the real SSH transport and local chef
// tooling. 'cfg' must already have defaults applied and be validated.
func New(cfg Config, api ec2API) *Baker {
	b := &Baker{cfg: cfg, api: api}
	b.dial = func(host string) (remote, error) {
		signer, err := ssh.LoadKey(cfg.KeyPath, nil)
		if err != nil {
			return nil, err
		}
		return ssh.Dial(host, uint16(cfg.SSHPort), cfg.SSHUser, signer)
	}
	builder := &chef.Builder{
		URL:         cfg.ChefURL,
		Branch:      cfg.ChefBranch,
		Role:        cfg.ChefRole,
		Environment: cfg.ChefEnvironment,
		NodeName:    cfg.ImageName(),
		RemoteRoot:  remoteChefRoot,
	}
	b.payload = builder.Build
	return b
}

// Run executes the build pipeline and returns the id of the produced AMI.
//
// Cleanup always runs exactly once before Run returns, regardless of which
// stage failed. Cleanup failures are logged, never propagated: a failed
// termination call must not mask the build's own result.
func (b *Baker) Run(ctx context.Context) (string, error) {
	log := clog.FromContext(ctx).With("run_id", uuid.NewString()[:8])
	ctx = clog.WithLogger(ctx, log)

	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		log.Info("beginning resource cleanup")
		if err := b.stack.Destroy(clog.WithLogger(dctx, log)); err != nil {
			log.Error("encountered error(s) in cleanup", "error", err)
		} else {
			log.Info("cleanup complete")
		}
	}()

	// Local working directory for the chef payload. Removed unconditionally
	// during cleanup.
	workdir, err := os.MkdirTemp("", "amibake-")
	if err != nil {
		return "", fmt.Errorf("failed to create working directory: %w", err)
	}
	b.stack.Push(func(ctx context.Context) error {
		clog.FromContext(ctx).Debug("removing working directory", "dir", workdir)
		return os.RemoveAll(workdir)
	})

	if err := b.launch(ctx); err != nil {
		return "", err
	}

	conn, err := b.awaitConnectivity(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	payload, err := b.payload(ctx, workdir)
	if err != nil {
		return "", fmt.Errorf("failed to assemble chef payload: %w", err)
	}

	if err := b.provision(ctx, conn, payload); err != nil {
		return "", err
	}

	if err := b.acceptanceTest(ctx, conn); err != nil {
		return "", err
	}

	if err := b.snapshotImage(ctx); err != nil {
		return "", err
	}

	log.Info("build complete", "ami_id", b.imageID)
	return b.imageID, nil
}
