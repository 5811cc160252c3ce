// Package docker implements launch.Launcher by running each tool in a
// container on the host Docker daemon. The X11 socket, the recording root and
// the build tree are bind-mounted at their host paths, so argv and
// environment built for the local backend work unchanged.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"regshots/internal/launch"
)

const (
	tailBytes     = 16 * 1024
	cleanupWindow = 10 * time.Second
)

// Launcher implements launch.Launcher using Docker.
type Launcher struct {
	client *client.Client
	cfg    Config
}

// New creates a Docker launcher connected to the daemon from the environment.
func New(cfg Config) (*Launcher, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker image is required")
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Launcher{client: dockerClient, cfg: cfg}, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (l *Launcher) Ready(ctx context.Context) error {
	_, err := l.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (l *Launcher) Close() error {
	return l.client.Close()
}

// Start creates and starts a container running spec.
func (l *Launcher) Start(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
	if l.cfg.Pull {
		if err := l.pullImageIfNeeded(ctx); err != nil {
			return nil, fmt.Errorf("failed to pull %s: %w", l.cfg.Image, err)
		}
	}

	name := containerName(spec.Name)
	resp, err := l.client.ContainerCreate(ctx, l.containerConfig(spec), l.hostConfig(), nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	c := &containerProcess{
		client: l.client,
		id:     resp.ID,
		name:   name,
		out:    launch.NewTailBuffer(tailBytes),
		done:   make(chan struct{}),
	}

	// Register for the exit before starting so a fast exit is never missed.
	waitCtx, cancelWait := context.WithCancel(context.Background())
	statusCh, errCh := l.client.ContainerWait(waitCtx, resp.ID, container.WaitConditionNextExit)

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		cancelWait()
		c.remove()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	c.start = time.Now()

	go c.watch(cancelWait, statusCh, errCh)
	return c, nil
}

func (l *Launcher) containerConfig(spec launch.Spec) *container.Config {
	env := make([]string, 0, len(l.cfg.ForwardEnv))
	for _, key := range l.cfg.ForwardEnv {
		if v, ok := launch.LookupEnv(spec.Env, key); ok {
			env = append(env, key+"="+v)
		}
	}

	workDir := spec.Dir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	return &container.Config{
		Image:      l.cfg.Image,
		Cmd:        spec.Argv(),
		Env:        env,
		WorkingDir: workDir,
		Tty:        spec.TTY,
		Labels: map[string]string{
			"regshots.step": spec.Name,
			"managed-by":    "regshots",
		},
	}
}

func (l *Launcher) hostConfig() *container.HostConfig {
	mounts := make([]mount.Mount, 0, len(l.cfg.Binds))
	for _, p := range l.cfg.Binds {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: p,
			Target: p,
		})
	}

	devices := make([]container.DeviceMapping, 0, len(l.cfg.Devices))
	for _, d := range l.cfg.Devices {
		devices = append(devices, container.DeviceMapping{
			PathOnHost:        d,
			PathInContainer:   d,
			CgroupPermissions: "rwm",
		})
	}

	return &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(l.cfg.Network),
		Resources: container.Resources{
			Devices: devices,
		},
	}
}

func (l *Launcher) pullImageIfNeeded(ctx context.Context) error {
	_, err := l.client.ImageInspect(ctx, l.cfg.Image)
	if err == nil {
		return nil
	}

	slog.Info("Pulling image", "image", l.cfg.Image)
	reader, err := l.client.ImagePull(ctx, l.cfg.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func containerName(step string) string {
	return fmt.Sprintf("regshots-%s-%s", step, strings.SplitN(uuid.NewString(), "-", 2)[0])
}

// exitFromStatus converts a container status code into an Exit. Docker
// reports a signal death as 128+signo.
func exitFromStatus(code int64, d time.Duration) launch.Exit {
	exit := launch.Exit{Code: int(code), Duration: d}
	if code > 128 && code < 128+65 {
		if name := unix.SignalName(syscall.Signal(code - 128)); name != "" {
			exit.Signal = name
		}
	}
	return exit
}

// containerProcess implements launch.Handle for a container.
type containerProcess struct {
	client *client.Client
	id     string
	name   string
	out    *launch.TailBuffer
	start  time.Time

	done    chan struct{}
	mu      sync.Mutex
	exit    launch.Exit
	waitErr error
}

func (c *containerProcess) watch(cancel context.CancelFunc, statusCh <-chan container.WaitResponse, errCh <-chan error) {
	defer cancel()

	exit := launch.Exit{Code: -1}
	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		exit = exitFromStatus(status.StatusCode, time.Since(c.start))
		if status.Error != nil {
			waitErr = fmt.Errorf("%s", status.Error.Message)
		}
	}
	exit.Duration = time.Since(c.start)

	c.collectLogs()
	c.remove()

	c.mu.Lock()
	c.exit = exit
	c.waitErr = waitErr
	c.mu.Unlock()
	close(c.done)
}

func (c *containerProcess) collectLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupWindow)
	defer cancel()

	logs, err := c.client.ContainerLogs(ctx, c.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		slog.Debug("Failed to read container logs", "container", c.name, "error", err)
		return
	}
	defer logs.Close()

	if _, err := stdcopy.StdCopy(c.out, c.out, logs); err != nil {
		// TTY containers are not multiplexed; whatever was read is kept.
		slog.Debug("Container logs not multiplexed", "container", c.name, "error", err)
	}
}

func (c *containerProcess) remove() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupWindow)
	defer cancel()
	_ = c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true})
}

func (c *containerProcess) ID() string {
	return c.name
}

func (c *containerProcess) Interrupt(ctx context.Context) error {
	return c.signal(ctx, "SIGINT")
}

func (c *containerProcess) Terminate(ctx context.Context) error {
	return c.signal(ctx, "SIGTERM")
}

func (c *containerProcess) Kill(ctx context.Context) error {
	return c.signal(ctx, "SIGKILL")
}

func (c *containerProcess) signal(ctx context.Context, sig string) error {
	if c.Exited() {
		return nil
	}
	err := c.client.ContainerKill(ctx, c.id, sig)
	if err != nil && c.Exited() {
		return nil
	}
	return err
}

func (c *containerProcess) Wait(ctx context.Context) (launch.Exit, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.exit, c.waitErr
	case <-ctx.Done():
		return launch.Exit{Code: -1, Duration: time.Since(c.start)}, ctx.Err()
	}
}

func (c *containerProcess) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Output returns the retained tail of the process output, marked with a
// leading "..." when earlier output was dropped.
func (c *containerProcess) Output() string {
	if c.out.Truncated() {
		return "..." + c.out.String()
	}
	return c.out.String()
}
