// Package containerbridge is the out-of-process node bridge: a node
// implementation runs inside its own Docker container, and the engine
// drives it exactly like any in-process node.Instance, exchanging
// (kind, payload) envelopes as newline-delimited JSON over the container's
// attached stdio.
//
// Container lifecycle is create-or-pull-then-start, with idempotent
// teardown via errdefs.IsNotFound; attach + stdcopy.StdCopy demultiplexes
// the combined stdout/stderr stream into a line scanner for repeated
// request/response round trips. Uses github.com/docker/docker for the
// client and github.com/docker/go-connections/nat to build
// ExposedPorts/PortBindings for the optional debug port exposed on a
// bridged container.
package containerbridge

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"distsim/internal/node"
)

// Config describes the image and runtime options a Bridge uses to launch
// one container per node it builds.
type Config struct {
	// Image is the Docker image containing the foreign node implementation.
	Image string
	// Entrypoint overrides the image's own entrypoint/cmd when non-empty,
	// e.g. to point a generic interpreter image at a specific node script.
	Entrypoint []string
	// DebugPort, when nonzero, is exposed (TCP) and published to an
	// ephemeral host port so an operator can attach a profiler or REPL to
	// the running node process; it plays no part in the engine protocol.
	DebugPort int
	// Labels are attached to every container the Bridge creates, so a
	// leftover container from a crashed run can be found and reaped.
	Labels map[string]string
}

// Bridge is a node.Factory that launches one container per Build call.
type Bridge struct {
	cli    client.APIClient
	cfg    Config
	prefix string
}

// New returns a Bridge that uses cli to manage containers, each named
// "<namePrefix>-<node id>" so concurrent runs/harnesses don't collide.
func New(cli client.APIClient, cfg Config, namePrefix string) *Bridge {
	return &Bridge{cli: cli, cfg: cfg, prefix: namePrefix}
}

// Build implements node.Factory: it creates and starts a fresh container
// for id, attaches to its stdio, performs the INIT handshake carrying
// ctorArgs and seed, and returns an Instance that proxies the three
// node.Instance methods over that connection.
func (b *Bridge) Build(id string, ctorArgs any, seed int64) (node.Instance, error) {
	ctx := context.Background()
	name := b.containerName(id)

	cc := &container.Config{
		Image:        b.cfg.Image,
		Entrypoint:   b.cfg.Entrypoint,
		Labels:       b.cfg.Labels,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
		StdinOnce:    true,
		Tty:          false,
	}
	hc := &container.HostConfig{}
	if b.cfg.DebugPort > 0 {
		debugPort := nat.Port(fmt.Sprintf("%d/tcp", b.cfg.DebugPort))
		cc.ExposedPorts = nat.PortSet{debugPort: struct{}{}}
		hc.PortBindings = nat.PortMap{debugPort: []nat.PortBinding{{HostPort: ""}}}
	}

	if err := createAndStart(ctx, b.cli, name, b.cfg.Image, cc, hc); err != nil {
		return nil, fmt.Errorf("containerbridge: build node %q: %w", id, err)
	}

	attach, err := b.cli.ContainerAttach(ctx, name, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		_ = stopAndRemove(ctx, b.cli, name)
		return nil, fmt.Errorf("containerbridge: attach to %q: %w", id, err)
	}

	inst := newInstance(id, name, b.cli, attach)
	if err := inst.sendInit(ctorArgs, seed); err != nil {
		inst.Close()
		return nil, fmt.Errorf("containerbridge: init %q: %w", id, err)
	}
	return inst, nil
}

func (b *Bridge) containerName(id string) string {
	return strings.TrimSuffix(b.prefix, "-") + "-" + id
}

// createAndStart tries to create the container, pulling the image and
// retrying on NotFound.
func createAndStart(ctx context.Context, cli client.APIClient, name, img string, cc *container.Config, hc *container.HostConfig) error {
	_, err := cli.ContainerCreate(ctx, cc, hc, nil, nil, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create container: %w", err)
		}
		resp, pullErr := cli.ImagePull(ctx, img, image.PullOptions{})
		if pullErr != nil {
			return fmt.Errorf("pull image %s: %w", img, pullErr)
		}
		_, _ = io.Copy(io.Discard, resp)
		_ = resp.Close()
		if _, err = cli.ContainerCreate(ctx, cc, hc, nil, nil, name); err != nil {
			return fmt.Errorf("create container after pull: %w", err)
		}
	}
	if err := cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// Stop tears down the container backing id; idempotent.
func (b *Bridge) Stop(ctx context.Context, id string) error {
	return stopAndRemove(ctx, b.cli, b.containerName(id))
}

func stopAndRemove(ctx context.Context, cli client.APIClient, name string) error {
	if err := cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop container %s: %w", name, err)
		}
	}
	if err := cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container %s: %w", name, err)
		}
	}
	return nil
}
