package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// LabelImage on a service container records the ID of the image it was
// started from.
const LabelImage = LabelPrefix + "image"

// readyPollInterval is how often WaitReady re-checks the supervisor.
const readyPollInterval = 500 * time.Millisecond

// logTailLines is the number of log lines attached to start failures.
const logTailLines = "40"

// ProbeResult is the outcome of a one-off container run.
type ProbeResult struct {
	ExitCode int64
	Stdout   string
	Stderr   string
}

// ProbeContainer runs cmd in a throwaway container of imageRef, bypassing
// the image's entrypoint, and returns its exit code and output. The
// container is always removed.
func ProbeContainer(ctx context.Context, cli *Client, imageRef string, cmd []string) (*ProbeResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("probe command must not be empty")
	}

	created, err := cli.Inner().ContainerCreate(ctx,
		&container.Config{
			Image:      imageRef,
			Entrypoint: cmd[:1],
			Cmd:        cmd[1:],
			Labels:     map[string]string{LabelManagedBy: ManagedByValue},
		},
		&container.HostConfig{NetworkMode: "none"},
		nil, nil, "",
	)
	if err != nil {
		return nil, createError(imageRef, err)
	}
	defer removeQuietly(cli, created.ID)

	// Register the wait before starting. WaitConditionNextExit only sees
	// exits that happen after the wait is registered, and the probe
	// script can exit before a wait issued after ContainerStart arrives,
	// which would block until ctx is done.
	waitCh, errCh := cli.Inner().ContainerWait(ctx, created.ID, container.WaitConditionNextExit)

	if err := cli.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start probe container: %w", err)
	}

	var exitCode int64
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("probe container wait: %s", resp.Error.Message)
		}
		exitCode = resp.StatusCode
	case err := <-errCh:
		return nil, fmt.Errorf("probe container wait: %w", err)
	}

	stdout, stderr, err := containerLogs(ctx, cli, created.ID, "all")
	if err != nil {
		return nil, err
	}
	return &ProbeResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

// defaultHostIP is the interface the supervisor port is published on when
// ServiceRequest.HostIP is empty.
const defaultHostIP = "127.0.0.1"

// ServiceRequest describes a supervisor container to start.
type ServiceRequest struct {
	// Image is the image to run with its default command. It is stored
	// verbatim in the LabelImage label, and list and remove match that
	// label against image IDs, so callers pass the resolved image ID
	// rather than the reference the user typed.
	Image string

	// Name is the container name. Empty lets Docker choose one.
	Name string

	// ContainerPort is the supervisor's listening port inside the container.
	ContainerPort int

	// HostIP is the host interface the port is published on. It must be
	// the interface the caller scanned for a free port and will poll for
	// readiness. Defaults to 127.0.0.1.
	HostIP string

	// HostPort is the host port the supervisor is published on.
	HostPort int
}

// StartService creates and starts a container running the image's default
// command, with the supervisor port published on HostIP:HostPort.
// It returns the container ID.
//
// The port is published on a single interface only. Binding every
// interface would expose an unverified image to the network.
func StartService(ctx context.Context, cli *Client, req ServiceRequest) (string, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(req.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("invalid supervisor port %d: %w", req.ContainerPort, err)
	}
	hostIP := req.HostIP
	if hostIP == "" {
		hostIP = defaultHostIP
	}

	created, err := cli.Inner().ContainerCreate(ctx,
		&container.Config{
			Image:        req.Image,
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels: map[string]string{
				LabelManagedBy: ManagedByValue,
				LabelImage:     req.Image,
			},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: hostIP, HostPort: strconv.Itoa(req.HostPort)}},
			},
		},
		nil, nil, req.Name,
	)
	if err != nil {
		return "", createError(req.Image, err)
	}

	if err := cli.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		removeQuietly(cli, created.ID)
		return "", model.WrapCLIError(
			model.ExitStartFailed,
			fmt.Sprintf("failed to start supervisor from %s", req.Image),
			err,
		)
	}
	return created.ID, nil
}

// WaitReady polls until the supervisor in containerID answers HTTP on addr
// ("host:port"). Any HTTP response counts, since the application may reject
// the probe request itself.
//
// A TCP connect is not enough. With userland proxying, docker-proxy owns
// the host port from the moment the container starts and accepts
// connections before anything in the container listens; the connection
// is then reset or closed without a response. Only an HTTP response shows
// that the supervisor has bound its socket and loaded the application.
//
// The container state is checked on every round, before the HTTP attempt.
// A supervisor that cannot import its entry point exits within a second
// or two, and reporting that exit with its log is more useful than
// waiting out the timeout.
//
// If the container exits first, the result is a start-time fatal: a
// model.CLIError with ExitStartFailed carrying the exit code and the tail
// of the container log. Exceeding timeout is reported the same way.
func WaitReady(ctx context.Context, cli *Client, containerID, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: 2 * time.Second}
	url := "http://" + addr + "/"

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		info, err := cli.Inner().ContainerInspect(ctx, containerID)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to inspect container %s: %w", containerID, err)
		}
		if err == nil && info.ContainerJSONBase != nil && info.State != nil && !info.State.Running {
			return exitedError(cli, containerID, info.State.ExitCode)
		}

		// The docker-proxy accepts TCP before the supervisor listens,
		// so only a completed HTTP exchange proves readiness.
		if err == nil {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if reqErr != nil {
				return reqErr
			}
			if resp, getErr := httpClient.Do(req); getErr == nil {
				resp.Body.Close()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				tail := logTail(cli, containerID)
				return model.NewCLIError(
					model.ExitStartFailed,
					fmt.Sprintf("supervisor did not answer on %s within %s%s", addr, timeout, tail),
				)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// exitedError builds the start-time fatal for a supervisor that exited.
func exitedError(cli *Client, containerID string, exitCode int) error {
	return model.NewCLIError(
		model.ExitStartFailed,
		fmt.Sprintf("supervisor exited with code %d before listening%s", exitCode, logTail(cli, containerID)),
	)
}

// logTail returns the last log lines of a container formatted for an error
// message, or "" when they cannot be read.
func logTail(cli *Client, containerID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stdout, stderr, err := containerLogs(ctx, cli, containerID, logTailLines)
	if err != nil {
		return ""
	}
	out := strings.TrimSpace(stdout + stderr)
	if out == "" {
		return ""
	}
	return "\n--- container log ---\n" + out
}

// containerLogs reads and demultiplexes a non-TTY container log.
func containerLogs(ctx context.Context, cli *Client, containerID, tail string) (string, string, error) {
	rc, err := cli.Inner().ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read logs of %s: %w", containerID, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex logs of %s: %w", containerID, err)
	}
	return stdout.String(), stderr.String(), nil
}

// ExecResult is the outcome of a command run inside a running container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs cmd inside a running container and waits for it to finish.
func Exec(ctx context.Context, cli *Client, containerID string, cmd []string) (*ExecResult, error) {
	created, err := cli.Inner().ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec in %s: %w", containerID, err)
	}

	attach, err := cli.Inner().ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec in %s: %w", containerID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := cli.Inner().ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return &ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// CopyPath returns a tar stream of path inside imageRef. The path is read
// from a created container that is never started, so nothing in the image
// runs. Closing the stream removes the container.
func CopyPath(ctx context.Context, cli *Client, imageRef, path string) (io.ReadCloser, error) {
	created, err := cli.Inner().ContainerCreate(ctx,
		&container.Config{
			Image:  imageRef,
			Labels: map[string]string{LabelManagedBy: ManagedByValue},
		},
		&container.HostConfig{NetworkMode: "none"},
		nil, nil, "",
	)
	if err != nil {
		return nil, createError(imageRef, err)
	}

	rc, _, err := cli.Inner().CopyFromContainer(ctx, created.ID, path)
	if err != nil {
		removeQuietly(cli, created.ID)
		if cerrdefs.IsNotFound(err) {
			return nil, model.WrapCLIError(
				model.ExitVerificationFailed,
				fmt.Sprintf("path %s does not exist in image %s", path, imageRef),
				err,
			)
		}
		return nil, fmt.Errorf("failed to copy %s from %s: %w", path, imageRef, err)
	}

	return &containerStream{ReadCloser: rc, cli: cli, id: created.ID}, nil
}

// containerStream removes its backing container on Close.
type containerStream struct {
	io.ReadCloser
	cli *Client
	id  string
}

func (s *containerStream) Close() error {
	err := s.ReadCloser.Close()
	removeQuietly(s.cli, s.id)
	return err
}

// ListServiceContainers returns the managed containers started from
// imageRef, including stopped ones. An empty imageRef lists all of them.
func ListServiceContainers(ctx context.Context, cli *Client, imageRef string) ([]model.ContainerInfo, error) {
	args := filters.NewArgs(filters.Arg("label", FilterLabels()))
	if imageRef != "" {
		args.Add("label", LabelImage+"="+imageRef)
	}

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerToInfo(c))
	}
	return result, nil
}

// containerToInfo maps a Docker API container summary to ContainerInfo.
// Docker reports names with a leading "/", which is stripped.
func containerToInfo(c container.Summary) model.ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	return model.ContainerInfo{
		ID:     c.ID,
		Name:   name,
		Image:  c.Labels[LabelImage],
		Status: c.State,
		Labels: c.Labels,
	}
}

// StopContainer stops a running container, giving the supervisor Docker's
// default grace period before it is killed.
func StopContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.Inner().ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to stop container %q", containerID),
			err,
		)
	}
	return nil
}

// RemoveContainer removes a container. With force, a running container is
// killed first.
func RemoveContainer(ctx context.Context, cli *Client, containerID string, force bool) error {
	err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: force,
	})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", containerID),
			err,
		)
	}
	return nil
}

// removeQuietly force-removes a container on a fresh context so cleanup
// still happens after the caller's context is cancelled.
func removeQuietly(cli *Client, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = RemoveContainer(ctx, cli, containerID, true)
}

// createError classifies a ContainerCreate failure.
func createError(imageRef string, err error) error {
	if cerrdefs.IsNotFound(err) {
		return model.WrapCLIError(
			model.ExitImageNotFound,
			fmt.Sprintf("image %q not found", imageRef),
			err,
		)
	}
	return fmt.Errorf("failed to create container from %s: %w", imageRef, err)
}
