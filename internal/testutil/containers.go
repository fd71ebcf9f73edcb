// Package testutil starts the backing services used by integration tests
package testutil

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Endpoint is a started container and the address it is reachable on
type Endpoint struct {
	Container testcontainers.Container
	Host      string
	Port      int
	URL       string
}

// Terminate stops the container
func (e *Endpoint) Terminate(ctx context.Context) error {
	if e == nil || e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

func endpointOf(ctx context.Context, c testcontainers.Container, port nat.Port) (*Endpoint, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("failed to get port %s: %w", port, err)
	}
	return &Endpoint{Container: c, Host: host, Port: mapped.Int()}, nil
}

// StartPostgres starts PostgreSQL and returns its connection URL in Endpoint.URL
func StartPostgres(ctx context.Context) (*Endpoint, error) {
	c, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("qcloud"),
		postgres.WithUsername("qcloud"),
		postgres.WithPassword("qcloud"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	ep, err := endpointOf(ctx, c, "5432/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	ep.URL = fmt.Sprintf("postgres://qcloud:qcloud@%s/qcloud?sslmode=disable", hostPort(ep))
	return ep, nil
}

// StartRedis starts Redis
func StartRedis(ctx context.Context) (*Endpoint, error) {
	c, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	ep, err := endpointOf(ctx, c, "6379/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	ep.URL = "redis://" + hostPort(ep)
	return ep, nil
}

// StartNATS starts NATS with JetStream enabled
func StartNATS(ctx context.Context) (*Endpoint, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start nats container: %w", err)
	}

	ep, err := endpointOf(ctx, c, nat.Port("4222/tcp"))
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	ep.URL = "nats://" + hostPort(ep)
	return ep, nil
}

func hostPort(ep *Endpoint) string {
	return ep.Host + ":" + strconv.Itoa(ep.Port)
}
