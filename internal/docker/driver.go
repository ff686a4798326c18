package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/eagraf/habitat-deployd/internal/process"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"
)

const (
	DriverDocker = "docker"

	deploydLabel = "deployd_target"
	// logDrainWait bounds how long Wait keeps draining the log stream after the container
	// stopped.
	logDrainWait = 2 * time.Second
)

// Client is the subset of the docker API used by the driver. *client.Client satisfies it.
type Client interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

type dockerDriver struct {
	client Client
}

// dockerDriver implements process.Driver
var _ process.Driver = &dockerDriver{}

func NewDriver(client Client) process.Driver {
	return &dockerDriver{
		client: client,
	}
}

func (d *dockerDriver) Type() string {
	return DriverDocker
}

// Start runs spec.Image as the local service. The selected service is passed as the SERVICE
// environment variable and spec.Port is published on the same host port.
func (d *dockerDriver) Start(ctx context.Context, spec *process.Spec, stdout, stderr io.Writer) (process.Process, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("no image configured for %s", spec.Target)
	}

	env := append([]string{}, spec.Env...)
	if spec.Service != "" {
		env = append(env, "SERVICE="+spec.Service)
	}

	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)
	if spec.Port > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", spec.Port))
		exposedPorts[port] = struct{}{}
		portBindings[port] = []nat.PortBinding{
			{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.Port)},
		}
	}

	createResp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Args,
		Env:          env,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			deploydLabel: string(spec.Target),
		},
	}, &container.HostConfig{
		PortBindings: portBindings,
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container for %s: %w", spec.Image, err)
	}

	err = d.client.ContainerStart(ctx, createResp.ID, container.StartOptions{})
	if err != nil {
		d.remove(createResp.ID)
		return nil, fmt.Errorf("starting container %s: %w", createResp.ID, err)
	}

	log.Info().Msgf("Started docker container %s", createResp.ID)

	p := &dockerProcess{
		client:   d.client,
		id:       createResp.ID,
		logsDone: make(chan struct{}),
	}
	go p.streamLogs(stdout, stderr)
	return p, nil
}

func (d *dockerDriver) remove(id string) {
	err := d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil {
		log.Warn().Err(err).Msgf("error removing container %s", id)
	}
}

// RemoveStale removes containers left behind by a previous run of the daemon.
func RemoveStale(ctx context.Context, c Client) error {
	ctrs, err := c.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", deploydLabel)),
	})
	if err != nil {
		return err
	}

	for _, ctr := range ctrs {
		if _, ok := ctr.Labels[deploydLabel]; !ok {
			continue
		}
		log.Info().Msgf("removing stale container %s", ctr.ID)
		err := c.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true})
		if err != nil {
			return fmt.Errorf("removing container %s: %w", ctr.ID, err)
		}
	}
	return nil
}

type dockerProcess struct {
	client   Client
	id       string
	logsDone chan struct{}

	once   sync.Once
	result process.Result
}

func (p *dockerProcess) PID() string {
	if len(p.id) > 12 {
		return p.id[:12]
	}
	return p.id
}

func (p *dockerProcess) streamLogs(stdout, stderr io.Writer) {
	defer close(p.logsDone)

	logs, err := p.client.ContainerLogs(context.Background(), p.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		log.Error().Err(err).Msgf("error attaching to logs of container %s", p.id)
		return
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		log.Warn().Err(err).Msgf("log stream of container %s ended", p.id)
	}
}

func (p *dockerProcess) Wait() process.Result {
	p.once.Do(func() {
		p.result = p.wait()
	})
	return p.result
}

func (p *dockerProcess) wait() process.Result {
	res := process.Result{}

	waitCh, errCh := p.client.ContainerWait(context.Background(), p.id, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		res.ExitCode = int(resp.StatusCode)
		if resp.Error != nil {
			res.Err = resp.Error.Message
		}
	case err := <-errCh:
		res.ExitCode = -1
		res.Err = err.Error()
	}

	select {
	case <-p.logsDone:
	case <-time.After(logDrainWait):
		log.Warn().Msgf("log stream of container %s did not close", p.id)
	}

	err := p.client.ContainerRemove(context.Background(), p.id, container.RemoveOptions{Force: true})
	if err != nil {
		log.Warn().Err(err).Msgf("error removing container %s", p.id)
	}

	res.EndedAt = time.Now()
	return res
}

func (p *dockerProcess) Interrupt() error {
	return p.client.ContainerKill(context.Background(), p.id, "SIGTERM")
}

func (p *dockerProcess) Kill() error {
	return p.client.ContainerKill(context.Background(), p.id, "SIGKILL")
}
