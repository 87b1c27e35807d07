//go:build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// startRedisContainer runs redis:7-alpine through the Docker CLI and
// returns its URL and a cleanup function.
func startRedisContainer(ctx context.Context) (string, func(), error) {
	port, err := getFreePort()
	if err != nil {
		return "", nil, fmt.Errorf("find free port: %w", err)
	}

	containerName := fmt.Sprintf("neuroscribe-integration-redis-%d", port)
	exec.CommandContext(ctx, "docker", "rm", "-f", containerName).Run()

	cmd := exec.CommandContext(ctx, "docker", "run",
		"--name", containerName,
		"-p", fmt.Sprintf("%d:6379", port),
		"-d",
		"redis:7-alpine",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w\noutput: %s", err, string(output))
	}
	containerID := strings.TrimSpace(string(output))

	cleanup := func() {
		exec.Command("docker", "rm", "-f", containerID).Run()
	}

	url := fmt.Sprintf("redis://localhost:%d/0", port)
	if err := waitForRedis(ctx, url, 30*time.Second); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("wait for redis: %w", err)
	}
	return url, cleanup, nil
}

// getFreePort returns a free TCP port on localhost.
func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitForRedis polls until redis answers PING.
func waitForRedis(ctx context.Context, url string, timeout time.Duration) error {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rdb := goredis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		rdb.Close()
		if err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("redis not ready after %v", timeout)
}
