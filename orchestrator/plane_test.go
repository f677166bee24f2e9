package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentsquads/fleet/controlplane"
)

// fakePlane is an in-memory ControlPlane that records every call and lets
// tests inject failures per operation.
type fakePlane struct {
	mu      sync.Mutex
	calls   []string
	apps    map[string]*controlplane.Application
	envs    map[string][]controlplane.EnvVar
	nextID  int
	failOn  map[string]error
	statusF func(uuid string) string
}

func newFakePlane() *fakePlane {
	return &fakePlane{
		apps:   make(map[string]*controlplane.Application),
		envs:   make(map[string][]controlplane.EnvVar),
		failOn: make(map[string]error),
	}
}

func (f *fakePlane) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[callOp(call)]
}

func callOp(call string) string {
	for i := range call {
		if call[i] == ' ' {
			return call[:i]
		}
	}
	return call
}

func (f *fakePlane) callOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = callOp(c)
	}
	return ops
}

func (f *fakePlane) CreateApplication(ctx context.Context, req controlplane.CreateApplicationRequest) (controlplane.Application, error) {
	if err := f.record("create " + req.Name); err != nil {
		return controlplane.Application{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	app := &controlplane.Application{
		UUID:   fmt.Sprintf("app-%d", f.nextID),
		Name:   req.Name,
		FQDN:   req.Domains,
		Status: "exited",
	}
	f.apps[app.UUID] = app
	return *app, nil
}

func (f *fakePlane) GetApplication(ctx context.Context, uuid string) (controlplane.Application, error) {
	if err := f.record("get " + uuid); err != nil {
		return controlplane.Application{}, err
	}
	f.mu.Lock()
	app, ok := f.apps[uuid]
	var out controlplane.Application
	if ok {
		out = *app
	}
	f.mu.Unlock()
	if !ok {
		return controlplane.Application{}, fmt.Errorf("application %s not found", uuid)
	}
	if f.statusF != nil {
		out.Status = f.statusF(uuid)
	}
	return out, nil
}

func (f *fakePlane) ListApplications(ctx context.Context) ([]controlplane.Application, error) {
	if err := f.record("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]controlplane.Application, 0, len(f.apps))
	// stable order by creation id
	for i := 1; i <= f.nextID; i++ {
		if app, ok := f.apps[fmt.Sprintf("app-%d", i)]; ok {
			out = append(out, *app)
		}
	}
	return out, nil
}

func (f *fakePlane) UpdateApplication(ctx context.Context, uuid string, req controlplane.UpdateApplicationRequest) (controlplane.Application, error) {
	if err := f.record("update " + uuid); err != nil {
		return controlplane.Application{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[uuid]
	if !ok {
		return controlplane.Application{}, fmt.Errorf("application %s not found", uuid)
	}
	if req.Domains != "" {
		app.FQDN = req.Domains
	}
	return *app, nil
}

func (f *fakePlane) DeleteApplication(ctx context.Context, uuid string) error {
	if err := f.record("delete " + uuid); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.apps, uuid)
	return nil
}

func (f *fakePlane) UpdateEnvVarsBulk(ctx context.Context, uuid string, envs []controlplane.EnvVar) error {
	if err := f.record("envs " + uuid); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envs[uuid] = append([]controlplane.EnvVar(nil), envs...)
	return nil
}

func (f *fakePlane) StartApplication(ctx context.Context, uuid string) (controlplane.LifecycleResponse, error) {
	if err := f.record("start " + uuid); err != nil {
		return controlplane.LifecycleResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if app, ok := f.apps[uuid]; ok {
		app.Status = "running"
	}
	return controlplane.LifecycleResponse{Message: "started"}, nil
}

func (f *fakePlane) StopApplication(ctx context.Context, uuid string) (controlplane.LifecycleResponse, error) {
	if err := f.record("stop " + uuid); err != nil {
		return controlplane.LifecycleResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if app, ok := f.apps[uuid]; ok {
		app.Status = "stopped"
	}
	return controlplane.LifecycleResponse{Message: "stopped"}, nil
}

func (f *fakePlane) RestartApplication(ctx context.Context, uuid string) (controlplane.LifecycleResponse, error) {
	if err := f.record("restart " + uuid); err != nil {
		return controlplane.LifecycleResponse{}, err
	}
	return controlplane.LifecycleResponse{Message: "restarted"}, nil
}

func (f *fakePlane) ApplicationLogs(ctx context.Context, uuid string, lines int) (string, error) {
	if err := f.record("logs " + uuid); err != nil {
		return "", err
	}
	return "log output", nil
}

func testSettings() Settings {
	return Settings{
		ServerUUID:           "srv-1",
		ProjectUUID:          "prj-1",
		EnvironmentName:      "production",
		BaseDomain:           "agents.example.com",
		Image:                "agentsquads/agent",
		Tag:                  "latest",
		MemoryLimit:          "512m",
		StopGracePeriod:      time.Millisecond,
		PollInterval:         time.Millisecond,
		HealthTimeout:        50 * time.Millisecond,
		MigrationPollRetries: 3,
	}
}
