package bake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
)

var ErrUnreachable = fmt.Errorf("instance never became reachable via SSH")

// probeCommand is the trivial remote command used to prove shell
// reachability.
const probeCommand = "echo amibake-probe"

// awaitConnectivity probes remote shell reachability at a fixed interval
// with bounded retries, returning a live connection on the first successful
// probe.
//
// A probe is a fresh SSH dial plus a trivial echo; a failed dial or command
// is transient and retried. Exceeding the retry bound is fatal.
func (b *Baker) awaitConnectivity(ctx context.Context) (remote, error) {
	log := clog.FromContext(ctx).With("private_ip", b.instanceIP)
	log.Info("waiting for instance to become reachable",
		"attempts", b.cfg.ProbeAttempts,
		"interval", b.cfg.ProbeInterval,
	)

	var conn remote
	attempt := 0
	err := poll(ctx, b.cfg.ProbeInterval, b.cfg.ProbeAttempts, func(ctx context.Context) (bool, error) {
		attempt++
		c, err := b.dial(b.instanceIP)
		if err != nil {
			log.Debug("instance not yet reachable", "attempt", attempt, "error", err)
			return false, nil
		}
		stdout, _, err := c.Run(probeCommand)
		if err != nil {
			_ = c.Close()
			log.Debug("probe command failed", "attempt", attempt, "error", err)
			return false, nil
		}
		log.Info("instance is reachable", "attempt", attempt, "probe", strings.TrimSpace(stdout))
		conn = c
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrPollBound) {
			return nil, ErrUnreachable
		}
		return nil, err
	}
	return conn, nil
}
