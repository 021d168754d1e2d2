// Package testcontainers starts throwaway infrastructure for integration tests
package testcontainers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Service is a started container and the address it is reachable on.
type Service struct {
	container testcontainers.Container
	Host      string
	Port      int
}

// Terminate stops and removes the container.
func (s *Service) Terminate(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// Addr returns host:port.
func (s *Service) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresCredentials are the fixed credentials StartPostgres configures.
const (
	PostgresUser     = "fern"
	PostgresPassword = "fern"
	PostgresDB       = "fern_test"
)

// StartPostgres starts postgres:15-alpine.
func StartPostgres(ctx context.Context) (*Service, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     PostgresUser,
			"POSTGRES_PASSWORD": PostgresPassword,
			"POSTGRES_DB":       PostgresDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	return start(ctx, req, "5432")
}

// StartRedis starts redis:7-alpine.
func StartRedis(ctx context.Context) (*Service, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}
	return start(ctx, req, "6379")
}

// StartMemgraph starts Memgraph with Bolt exposed.
func StartMemgraph(ctx context.Context) (*Service, error) {
	req := testcontainers.ContainerRequest{
		Image:        "memgraph/memgraph:latest",
		ExposedPorts: []string{"7687/tcp"},
		WaitingFor: wait.ForListeningPort("7687/tcp").
			WithStartupTimeout(60 * time.Second),
	}
	return start(ctx, req, "7687")
}

func start(ctx context.Context, req testcontainers.ContainerRequest, port string) (*Service, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	p, err := strconv.Atoi(mapped.Port())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &Service{container: container, Host: host, Port: p}, nil
}
