package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Application is the deployed unit corresponding to one tenant. Status is
// authoritative from the control plane and never cached durably here.
type Application struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	FQDN   string `json:"fqdn"`
	Status string `json:"status"`
}

// CreateApplicationRequest creates a docker-image application. InstantDeploy
// stays false so the container does not start before its environment is set.
type CreateApplicationRequest struct {
	ServerUUID      string `json:"server_uuid"`
	ProjectUUID     string `json:"project_uuid"`
	EnvironmentName string `json:"environment_name"`
	Image           string `json:"docker_registry_image_name"`
	Tag             string `json:"docker_registry_image_tag"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Domains         string `json:"domains"`
	InstantDeploy   bool   `json:"instant_deploy"`
}

// UpdateApplicationRequest patches an application. Zero-valued fields are
// omitted so partial updates do not clobber unrelated settings.
type UpdateApplicationRequest struct {
	Domains             string `json:"domains,omitempty"`
	HealthCheckEnabled  *bool  `json:"health_check_enabled,omitempty"`
	HealthCheckPath     string `json:"health_check_path,omitempty"`
	HealthCheckInterval int    `json:"health_check_interval,omitempty"`
	LimitsMemory        string `json:"limits_memory,omitempty"`
}

// EnvVar is one deploy-time environment variable. IsLiteral exempts the
// value from template interpolation on the control-plane side.
type EnvVar struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	IsLiteral bool   `json:"is_literal"`
}

// LifecycleResponse is returned by start/stop/restart.
type LifecycleResponse struct {
	Message        string `json:"message"`
	DeploymentUUID string `json:"deployment_uuid,omitempty"`
}

// Deployment is one deployment run of an application.
type Deployment struct {
	UUID            string `json:"deployment_uuid"`
	ApplicationUUID string `json:"application_uuid"`
	Status          string `json:"status"`
	Logs            string `json:"logs,omitempty"`
}

func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	var out []Application
	if err := c.do(ctx, http.MethodGet, "/applications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetApplication(ctx context.Context, uuid string) (Application, error) {
	var out Application
	if err := c.do(ctx, http.MethodGet, "/applications/"+uuid, nil, &out); err != nil {
		return Application{}, err
	}
	return out, nil
}

func (c *Client) CreateApplication(ctx context.Context, req CreateApplicationRequest) (Application, error) {
	var out Application
	if err := c.do(ctx, http.MethodPost, "/applications/dockerimage", req, &out); err != nil {
		return Application{}, err
	}
	return out, nil
}

func (c *Client) UpdateApplication(ctx context.Context, uuid string, req UpdateApplicationRequest) (Application, error) {
	var out Application
	if err := c.do(ctx, http.MethodPatch, "/applications/"+uuid, req, &out); err != nil {
		return Application{}, err
	}
	return out, nil
}

func (c *Client) DeleteApplication(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "/applications/"+uuid, nil, nil)
}

func (c *Client) ListEnvVars(ctx context.Context, uuid string) ([]EnvVar, error) {
	var out []EnvVar
	if err := c.do(ctx, http.MethodGet, "/applications/"+uuid+"/envs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateEnvVar(ctx context.Context, uuid string, env EnvVar) error {
	return c.do(ctx, http.MethodPost, "/applications/"+uuid+"/envs", env, nil)
}

// UpdateEnvVarsBulk replaces the application's environment in one call.
func (c *Client) UpdateEnvVarsBulk(ctx context.Context, uuid string, envs []EnvVar) error {
	payload := struct {
		Data []EnvVar `json:"data"`
	}{Data: envs}
	return c.do(ctx, http.MethodPatch, "/applications/"+uuid+"/envs/bulk", payload, nil)
}

func (c *Client) DeleteEnvVar(ctx context.Context, uuid, key string) error {
	return c.do(ctx, http.MethodDelete, "/applications/"+uuid+"/envs/"+url.PathEscape(key), nil, nil)
}

func (c *Client) StartApplication(ctx context.Context, uuid string) (LifecycleResponse, error) {
	return c.lifecycle(ctx, uuid, "start")
}

func (c *Client) StopApplication(ctx context.Context, uuid string) (LifecycleResponse, error) {
	return c.lifecycle(ctx, uuid, "stop")
}

func (c *Client) RestartApplication(ctx context.Context, uuid string) (LifecycleResponse, error) {
	return c.lifecycle(ctx, uuid, "restart")
}

func (c *Client) lifecycle(ctx context.Context, uuid, action string) (LifecycleResponse, error) {
	var out LifecycleResponse
	if err := c.do(ctx, http.MethodPost, "/applications/"+uuid+"/"+action, nil, &out); err != nil {
		return LifecycleResponse{}, err
	}
	return out, nil
}

// ApplicationLogs fetches the last lines of application output.
func (c *Client) ApplicationLogs(ctx context.Context, uuid string, lines int) (string, error) {
	path := "/applications/" + uuid + "/logs"
	if lines > 0 {
		path += fmt.Sprintf("?lines=%d", lines)
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Logs, nil
}

// TriggerDeployment forces a redeploy of an application.
func (c *Client) TriggerDeployment(ctx context.Context, uuid string, force bool) (Deployment, error) {
	payload := struct {
		Force bool `json:"force"`
	}{Force: force}
	var out Deployment
	if err := c.do(ctx, http.MethodPost, "/applications/"+uuid+"/deploy", payload, &out); err != nil {
		return Deployment{}, err
	}
	return out, nil
}

func (c *Client) ListDeployments(ctx context.Context) ([]Deployment, error) {
	var out []Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDeployment(ctx context.Context, uuid string) (Deployment, error) {
	var out Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+uuid, nil, &out); err != nil {
		return Deployment{}, err
	}
	return out, nil
}

func (c *Client) CancelDeployment(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodPost, "/deployments/"+uuid+"/cancel", nil, nil)
}
