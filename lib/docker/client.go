package docker

import (
	"fmt"
	"os"

	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client used by the container build backend
type Client struct {
	API *client.Client
}

// NewClient creates a Docker client from environment defaults.
// DOCKER_HOST overrides the connection address.
func NewClient() (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %v", err)
	}

	return &Client{API: api}, nil
}

// Close releases resources held by the Docker client
func (c *Client) Close() error {
	if c.API == nil {
		return nil
	}
	return c.API.Close()
}
