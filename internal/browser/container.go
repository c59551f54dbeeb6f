package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

const (
	containerReadyTimeout = 30 * time.Second
	containerReadyPoll    = 500 * time.Millisecond
	containerStopTimeout  = 5 // seconds
)

// launchContainer runs the headless browser in its own container and
// attaches to it over the DevTools protocol. Useful when the service
// host cannot run Chrome directly.
func (m *Manager) launchContainer(ls *launchState) error {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("creating docker client: %w", err)
	}

	ctx := context.Background()
	port := m.opts.DevtoolsPort

	config := &container.Config{
		Image: m.opts.Image,
		Cmd: []string{
			"--no-sandbox",
			"--disable-gpu",
			"--disable-dev-shm-usage",
			"--remote-debugging-address=0.0.0.0",
			fmt.Sprintf("--remote-debugging-port=%d", port),
		},
		ExposedPorts: nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", port)): struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		AutoRemove: true,
		Resources: container.Resources{
			Memory:   2 * 1024 * 1024 * 1024,
			NanoCPUs: 2 * 1000000000,
		},
	}

	var networkConfig *network.NetworkingConfig
	if m.opts.DockerNetwork != "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				m.opts.DockerNetwork: {},
			},
		}
	}

	resp, err := docker.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, "")
	if err != nil {
		return fmt.Errorf("creating browser container: %w", err)
	}

	if err := docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting browser container: %w", err)
	}

	inspect, err := docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		docker.ContainerStop(ctx, resp.ID, container.StopOptions{})
		return fmt.Errorf("inspecting browser container: %w", err)
	}
	ip := containerIP(inspect.NetworkSettings, m.opts.DockerNetwork)
	if ip == "" {
		docker.ContainerStop(ctx, resp.ID, container.StopOptions{})
		return fmt.Errorf("browser container has no reachable IP address")
	}

	wsURL, err := waitForDevtools(ctx, ip, port)
	if err != nil {
		docker.ContainerStop(ctx, resp.ID, container.StopOptions{})
		return fmt.Errorf("browser container not ready: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		docker.ContainerStop(ctx, resp.ID, container.StopOptions{})
		return fmt.Errorf("attaching to browser container: %w", err)
	}

	m.logger.Info("attached to containerized browser",
		zap.String("container_id", resp.ID[:12]),
		zap.String("devtools_ws", wsURL))

	ls.browserCtx = browserCtx
	ls.browserCancel = browserCancel
	ls.allocCancel = allocCancel
	ls.containerID = resp.ID
	ls.devtoolsWS = wsURL
	return nil
}

func (m *Manager) stopContainer(ctx context.Context, containerID string) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		m.logger.Warn("docker client unavailable during shutdown", zap.Error(err))
		return
	}
	stopTimeout := containerStopTimeout
	if err := docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
		m.logger.Warn("failed to stop browser container",
			zap.String("container_id", containerID[:12]),
			zap.Error(err))
	}
}

func containerIP(settings *types.NetworkSettings, networkName string) string {
	if settings == nil {
		return ""
	}
	if networkName != "" && settings.Networks[networkName] != nil {
		return settings.Networks[networkName].IPAddress
	}
	if settings.IPAddress != "" {
		return settings.IPAddress
	}
	for _, net := range settings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress
		}
	}
	return ""
}

// waitForDevtools polls the DevTools version endpoint until the
// browser answers, and returns its websocket debugger URL.
func waitForDevtools(ctx context.Context, ip string, port int) (string, error) {
	versionURL := fmt.Sprintf("http://%s:%d/json/version", ip, port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	deadline := time.Now().Add(containerReadyTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		resp, err := httpClient.Get(versionURL)
		if err == nil {
			var version struct {
				WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&version)
			resp.Body.Close()
			if decodeErr == nil && version.WebSocketDebuggerURL != "" {
				return version.WebSocketDebuggerURL, nil
			}
		}

		time.Sleep(containerReadyPoll)
	}

	return "", fmt.Errorf("timeout waiting for devtools endpoint at %s", versionURL)
}
