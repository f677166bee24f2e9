// Package dockerplane is a local single-host implementation of the
// orchestrator's control-plane surface, backed by the Docker Engine API.
// It serves development and single-server deployments where no remote
// control plane is available.
//
// The remote control plane defers deployment until start is triggered;
// this driver mirrors that by staging the application spec in memory and
// only creating the container when StartApplication runs, after the
// environment has been pushed.
package dockerplane

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/agentsquads/fleet/controlplane"
)

const (
	labelManaged = "agentsquads-managed"
	labelAppUUID = "agentsquads-app-uuid"
	labelAppName = "agentsquads-app-name"
	labelFQDN    = "agentsquads-fqdn"

	agentPort       = 8080
	stopGraceSecond = 10
)

// stagedApp holds a spec between create and start.
type stagedApp struct {
	req    controlplane.CreateApplicationRequest
	envs   []controlplane.EnvVar
	memory string
	fqdn   string
}

// Driver implements orchestrator.ControlPlane against a local Docker
// daemon.
type Driver struct {
	cli *client.Client
	log *slog.Logger

	mu     sync.Mutex
	staged map[string]*stagedApp
	// fqdns carries post-start domain switches; container labels keep the
	// provision-time domain and cannot be rewritten in place.
	fqdns map[string]string
}

// New connects to the Docker daemon from the environment.
func New() (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Driver{
		cli:    cli,
		log:    slog.Default().With("component", "dockerplane"),
		staged: make(map[string]*stagedApp),
		fqdns:  make(map[string]string),
	}, nil
}

// CreateApplication stages the spec and assigns a synthetic uuid. The
// container is not created until StartApplication.
func (d *Driver) CreateApplication(ctx context.Context, req controlplane.CreateApplicationRequest) (controlplane.Application, error) {
	if req.Name == "" {
		return controlplane.Application{}, fmt.Errorf("application name is required")
	}
	id := uuid.NewString()

	d.mu.Lock()
	d.staged[id] = &stagedApp{req: req, fqdn: req.Domains}
	d.mu.Unlock()

	d.log.Info("application staged", "app", id, "name", req.Name)
	return controlplane.Application{UUID: id, Name: req.Name, FQDN: req.Domains, Status: "created"}, nil
}

// UpdateEnvVarsBulk replaces the staged environment. A started container's
// environment is immutable.
func (d *Driver) UpdateEnvVarsBulk(ctx context.Context, id string, envs []controlplane.EnvVar) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	app, ok := d.staged[id]
	if !ok {
		return fmt.Errorf("application %s is already deployed; environment is immutable", id)
	}
	app.envs = append([]controlplane.EnvVar(nil), envs...)
	return nil
}

// UpdateApplication applies memory/domain changes. Before start they edit
// the staged spec; after start only the domain can change.
func (d *Driver) UpdateApplication(ctx context.Context, id string, req controlplane.UpdateApplicationRequest) (controlplane.Application, error) {
	d.mu.Lock()
	if app, ok := d.staged[id]; ok {
		if req.LimitsMemory != "" {
			app.memory = req.LimitsMemory
		}
		if req.Domains != "" {
			app.fqdn = req.Domains
		}
		out := controlplane.Application{UUID: id, Name: app.req.Name, FQDN: app.fqdn, Status: "created"}
		d.mu.Unlock()
		return out, nil
	}
	if req.Domains != "" {
		d.fqdns[id] = req.Domains
	}
	d.mu.Unlock()

	if req.LimitsMemory != "" {
		return controlplane.Application{}, fmt.Errorf("memory limit of a deployed application cannot be changed")
	}
	return d.GetApplication(ctx, id)
}

// StartApplication creates and starts the container on first call; later
// calls just start it again.
func (d *Driver) StartApplication(ctx context.Context, id string) (controlplane.LifecycleResponse, error) {
	d.mu.Lock()
	app, isStaged := d.staged[id]
	d.mu.Unlock()

	if !isStaged {
		c, err := d.containerByUUID(ctx, id)
		if err != nil {
			return controlplane.LifecycleResponse{}, err
		}
		if err := d.cli.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
			return controlplane.LifecycleResponse{}, fmt.Errorf("container start: %w", err)
		}
		return controlplane.LifecycleResponse{Message: "started"}, nil
	}

	ref := app.req.Image
	if app.req.Tag != "" {
		ref += ":" + app.req.Tag
	}

	// Pull best-effort in case a newer image exists.
	if reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{}); err != nil {
		d.log.Warn("image pull failed (using local)", "image", ref, "err", err)
	} else {
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	env := make([]string, 0, len(app.envs))
	for _, e := range app.envs {
		env = append(env, e.Key+"="+e.Value)
	}

	var memoryBytes int64
	if app.memory != "" {
		b, err := units.RAMInBytes(app.memory)
		if err != nil {
			return controlplane.LifecycleResponse{}, fmt.Errorf("parse memory limit %q: %w", app.memory, err)
		}
		memoryBytes = b
	}

	exposed := nat.Port(strconv.Itoa(agentPort) + "/tcp")
	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        ref,
			Env:          env,
			ExposedPorts: nat.PortSet{exposed: struct{}{}},
			Labels: map[string]string{
				labelManaged: "true",
				labelAppUUID: id,
				labelAppName: app.req.Name,
				labelFQDN:    app.fqdn,
			},
		},
		&container.HostConfig{
			Resources:     container.Resources{Memory: memoryBytes},
			RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		},
		nil, nil, app.req.Name,
	)
	if err != nil {
		return controlplane.LifecycleResponse{}, fmt.Errorf("container create: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return controlplane.LifecycleResponse{}, fmt.Errorf("container start: %w", err)
	}

	d.mu.Lock()
	delete(d.staged, id)
	d.mu.Unlock()

	d.log.Info("container started", "app", id, "container", shortID(resp.ID))
	return controlplane.LifecycleResponse{Message: "started"}, nil
}

func (d *Driver) StopApplication(ctx context.Context, id string) (controlplane.LifecycleResponse, error) {
	d.mu.Lock()
	_, isStaged := d.staged[id]
	d.mu.Unlock()
	if isStaged {
		return controlplane.LifecycleResponse{Message: "not deployed"}, nil
	}

	c, err := d.containerByUUID(ctx, id)
	if err != nil {
		return controlplane.LifecycleResponse{}, err
	}
	timeout := stopGraceSecond
	if err := d.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return controlplane.LifecycleResponse{}, fmt.Errorf("container stop: %w", err)
	}
	return controlplane.LifecycleResponse{Message: "stopped"}, nil
}

func (d *Driver) RestartApplication(ctx context.Context, id string) (controlplane.LifecycleResponse, error) {
	c, err := d.containerByUUID(ctx, id)
	if err != nil {
		return controlplane.LifecycleResponse{}, err
	}
	timeout := stopGraceSecond
	if err := d.cli.ContainerRestart(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return controlplane.LifecycleResponse{}, fmt.Errorf("container restart: %w", err)
	}
	return controlplane.LifecycleResponse{Message: "restarted"}, nil
}

// DeleteApplication removes the container and its anonymous volumes, or
// just drops the staged spec when the application never started.
func (d *Driver) DeleteApplication(ctx context.Context, id string) error {
	d.mu.Lock()
	if _, ok := d.staged[id]; ok {
		delete(d.staged, id)
		d.mu.Unlock()
		return nil
	}
	delete(d.fqdns, id)
	d.mu.Unlock()

	c, err := d.containerByUUID(ctx, id)
	if err != nil {
		return err
	}
	if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	d.log.Info("container removed", "app", id, "container", shortID(c.ID))
	return nil
}

func (d *Driver) GetApplication(ctx context.Context, id string) (controlplane.Application, error) {
	d.mu.Lock()
	if app, ok := d.staged[id]; ok {
		out := controlplane.Application{UUID: id, Name: app.req.Name, FQDN: app.fqdn, Status: "created"}
		d.mu.Unlock()
		return out, nil
	}
	d.mu.Unlock()

	c, err := d.containerByUUID(ctx, id)
	if err != nil {
		return controlplane.Application{}, err
	}
	return d.toApplication(*c), nil
}

func (d *Driver) ListApplications(ctx context.Context) ([]controlplane.Application, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]controlplane.Application, 0, len(containers))
	for _, c := range containers {
		out = append(out, d.toApplication(c))
	}

	d.mu.Lock()
	for id, app := range d.staged {
		out = append(out, controlplane.Application{UUID: id, Name: app.req.Name, FQDN: app.fqdn, Status: "created"})
	}
	d.mu.Unlock()
	return out, nil
}

// ApplicationLogs returns the last lines of container output with the
// stream multiplexing stripped.
func (d *Driver) ApplicationLogs(ctx context.Context, id string, lines int) (string, error) {
	c, err := d.containerByUUID(ctx, id)
	if err != nil {
		return "", err
	}

	tail := "all"
	if lines > 0 {
		tail = strconv.Itoa(lines)
	}
	reader, err := d.cli.ContainerLogs(ctx, c.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	output := stdout.String()
	if s := stderr.String(); s != "" {
		output += "\n" + s
	}
	return output, nil
}

func (d *Driver) containerByUUID(ctx context.Context, id string) (*container.Summary, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelAppUUID+"="+id)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("application %s not found", id)
	}
	return &containers[0], nil
}

func (d *Driver) toApplication(c container.Summary) controlplane.Application {
	id := c.Labels[labelAppUUID]
	fqdn := c.Labels[labelFQDN]
	d.mu.Lock()
	if override, ok := d.fqdns[id]; ok {
		fqdn = override
	}
	d.mu.Unlock()
	return controlplane.Application{
		UUID:   id,
		Name:   c.Labels[labelAppName],
		FQDN:   fqdn,
		Status: c.State,
	}
}

func shortID(containerID string) string {
	if len(containerID) > 12 {
		return containerID[:12]
	}
	return containerID
}
