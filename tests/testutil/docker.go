package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// DockerTestEnv manages the Docker Compose lifecycle for integration tests.
type DockerTestEnv struct {
	t           *testing.T
	composePath string
	services    []string
	started     bool
	projectName string
	ports       map[string]map[int]int // service -> containerPort -> hostPort
}

// servicePorts lists the container ports published by docker-compose.yml.
var servicePorts = map[string][]int{
	"localstack": {4566},
}

// StartDockerEnv starts Docker Compose services for integration testing.
// The test is skipped when Docker is unavailable or -short is set.
//
// Example usage:
//
//	env := testutil.StartDockerEnv(t, []string{"localstack"})
//	settings := env.LocalStackSettings()
func StartDockerEnv(t *testing.T, services []string) *DockerTestEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	SkipIfDockerUnavailable(t)

	// Ambient AWS variables would override the LocalStack credentials.
	IsolateEnv(t)
	for _, key := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN", "AWS_REGION"} {
		unsetForTest(t, key)
	}

	composePath := findDockerComposePath(t)
	if composePath == "" {
		t.Fatal("docker-compose.yml not found in tests/integration/")
	}

	env := &DockerTestEnv{
		t:           t,
		composePath: composePath,
		services:    services,
		projectName: fmt.Sprintf("vaultsync-test-%d", time.Now().UnixNano()),
	}

	env.start()
	t.Cleanup(env.Stop)

	if err := env.WaitForHealthy(90 * time.Second); err != nil {
		t.Fatalf("Docker services failed to become healthy: %v", err)
	}
	if err := env.discoverPorts(); err != nil {
		t.Fatalf("Failed to discover ports: %v", err)
	}
	return env
}

// SkipIfDockerUnavailable skips the test if Docker is not available.
func SkipIfDockerUnavailable(t *testing.T) {
	t.Helper()

	if !IsDockerAvailable() {
		t.Skip("Docker not available, skipping integration test")
	}
}

// IsDockerAvailable checks that the docker CLI, its daemon and the compose
// plugin are usable.
func IsDockerAvailable() bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	if err := exec.Command("docker", "ps").Run(); err != nil {
		return false
	}
	return exec.Command("docker", "compose", "version").Run() == nil
}

func (e *DockerTestEnv) compose(args ...string) *exec.Cmd {
	cmd := exec.Command("docker", append([]string{"compose", "-f", e.composePath, "-p", e.projectName}, args...)...)
	cmd.Dir = filepath.Dir(e.composePath)
	return cmd
}

func (e *DockerTestEnv) start() {
	e.t.Helper()

	cmd := e.compose(append([]string{"up", "-d"}, e.services...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	e.t.Logf("Starting Docker services: %v", e.services)
	if err := cmd.Run(); err != nil {
		e.t.Fatalf("Failed to start Docker services: %v", err)
	}
	e.started = true
}

// Stop stops and removes the Compose project.
func (e *DockerTestEnv) Stop() {
	if !e.started {
		return
	}

	cmd := e.compose("down", "-v")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		e.t.Logf("Warning: Failed to stop Docker services: %v", err)
	}
	e.started = false
}

// WaitForHealthy waits until every service reports healthy, or running
// when it has no health check.
func (e *DockerTestEnv) WaitForHealthy(timeout time.Duration) error {
	e.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for services to be healthy")
		case <-ticker.C:
			if e.checkHealth() {
				e.t.Logf("All services are healthy")
				return nil
			}
		}
	}
}

func (e *DockerTestEnv) checkHealth() bool {
	for _, service := range e.services {
		// Compose names containers {project}-{service}-{replica}
		container := fmt.Sprintf("%s-%s-1", e.projectName, service)

		out, err := exec.Command("docker", "inspect", "--format", "{{.State.Health.Status}}", container).Output()
		if err != nil {
			out, err = exec.Command("docker", "inspect", "--format", "{{.State.Status}}", container).Output()
			if err != nil || strings.TrimSpace(string(out)) != "running" {
				return false
			}
			continue
		}
		if status := strings.TrimSpace(string(out)); status != "healthy" && status != "" {
			return false
		}
	}
	return true
}

func (e *DockerTestEnv) discoverPorts() error {
	e.ports = make(map[string]map[int]int)

	for _, service := range e.services {
		e.ports[service] = make(map[int]int)
		for _, containerPort := range servicePorts[service] {
			out, err := e.compose("port", service, fmt.Sprintf("%d", containerPort)).Output()
			if err != nil {
				return fmt.Errorf("failed to get port for %s:%d: %w", service, containerPort, err)
			}

			// "0.0.0.0:32768" -> 32768
			mapping := strings.TrimSpace(string(out))
			idx := strings.LastIndex(mapping, ":")
			if idx < 0 {
				return fmt.Errorf("unexpected port output format: %s", mapping)
			}
			hostPort := 0
			if _, err := fmt.Sscanf(mapping[idx+1:], "%d", &hostPort); err != nil {
				return fmt.Errorf("failed to parse host port from %s: %w", mapping, err)
			}

			e.ports[service][containerPort] = hostPort
			e.t.Logf("Discovered port mapping: %s:%d -> localhost:%d", service, containerPort, hostPort)
		}
	}
	return nil
}

// GetPort returns the host port for a service's container port, or the
// container port itself when it was not published.
func (e *DockerTestEnv) GetPort(service string, containerPort int) int {
	if ports, ok := e.ports[service]; ok {
		if hostPort, ok := ports[containerPort]; ok {
			return hostPort
		}
	}
	return containerPort
}

// LocalStackEndpoint returns the LocalStack edge endpoint.
func (e *DockerTestEnv) LocalStackEndpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.GetPort("localstack", 4566))
}

// LocalStackSettings is the aws.secretsmanager settings block pointing at
// LocalStack with its fixed test credentials.
func (e *DockerTestEnv) LocalStackSettings() map[string]interface{} {
	return map[string]interface{}{
		"region":               "us-east-1",
		"endpoint":             e.LocalStackEndpoint(),
		"access_key_id":        "test",
		"secret_access_key":    "test",
		"recovery_window_days": 7,
	}
}

// findDockerComposePath walks up to the module root and returns
// tests/integration/docker-compose.yml.
func findDockerComposePath(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			path := filepath.Join(dir, "tests", "integration", "docker-compose.yml")
			if _, err := os.Stat(path); err == nil {
				return path
			}
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
