package controlplane

import (
	"context"
	"net/http"
)

// Server is a host registered with the control plane.
type Server struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	IP          string `json:"ip"`
	Description string `json:"description,omitempty"`
	Reachable   bool   `json:"reachable"`
}

// Project groups environments and their applications.
type Project struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Environment is a named deployment target inside a project.
type Environment struct {
	Name        string `json:"name"`
	ProjectUUID string `json:"project_uuid"`
}

// Service is a sidecar resource (database, cache) attached to a project.
type Service struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	ServerUUID  string `json:"server_uuid"`
	ProjectUUID string `json:"project_uuid"`
}

// CreateServiceRequest provisions a sidecar service.
type CreateServiceRequest struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	ServerUUID      string `json:"server_uuid"`
	ProjectUUID     string `json:"project_uuid"`
	EnvironmentName string `json:"environment_name"`
}

func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out []Server
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetServer(ctx context.Context, uuid string) (Server, error) {
	var out Server
	if err := c.do(ctx, http.MethodGet, "/servers/"+uuid, nil, &out); err != nil {
		return Server{}, err
	}
	return out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetProject(ctx context.Context, uuid string) (Project, error) {
	var out Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+uuid, nil, &out); err != nil {
		return Project{}, err
	}
	return out, nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	payload := struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}{Name: name, Description: description}
	var out Project
	if err := c.do(ctx, http.MethodPost, "/projects", payload, &out); err != nil {
		return Project{}, err
	}
	return out, nil
}

func (c *Client) DeleteProject(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+uuid, nil, nil)
}

func (c *Client) ListEnvironments(ctx context.Context, projectUUID string) ([]Environment, error) {
	var out []Environment
	if err := c.do(ctx, http.MethodGet, "/projects/"+projectUUID+"/environments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateEnvironment(ctx context.Context, projectUUID, name string) (Environment, error) {
	payload := struct {
		Name string `json:"name"`
	}{Name: name}
	var out Environment
	if err := c.do(ctx, http.MethodPost, "/projects/"+projectUUID+"/environments", payload, &out); err != nil {
		return Environment{}, err
	}
	return out, nil
}

func (c *Client) DeleteEnvironment(ctx context.Context, projectUUID, name string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+projectUUID+"/environments/"+name, nil, nil)
}

func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var out []Service
	if err := c.do(ctx, http.MethodGet, "/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetService(ctx context.Context, uuid string) (Service, error) {
	var out Service
	if err := c.do(ctx, http.MethodGet, "/services/"+uuid, nil, &out); err != nil {
		return Service{}, err
	}
	return out, nil
}

func (c *Client) CreateService(ctx context.Context, req CreateServiceRequest) (Service, error) {
	var out Service
	if err := c.do(ctx, http.MethodPost, "/services", req, &out); err != nil {
		return Service{}, err
	}
	return out, nil
}

func (c *Client) DeleteService(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "/services/"+uuid, nil, nil)
}
