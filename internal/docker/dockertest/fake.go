// Package dockertest provides an in-memory Docker daemon for tests of code
// built on internal/docker.
//
// Fake implements client.APIClient by embedding the interface. Only the
// calls wsgi-image makes during build, tag, remove, and supervisor start
// are implemented; any other call panics on the nil embedded value, which
// points a test at the call it did not expect.
package dockertest

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	dockerspec "github.com/moby/docker-image-spec/specs-go/v1"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// TagCall records one ImageTag request.
type TagCall struct {
	Image string
	Ref   string
}

// CreateCall records one ContainerCreate request.
type CreateCall struct {
	Config     *container.Config
	HostConfig *container.HostConfig
	Name       string
}

// Fake is an in-memory client.APIClient. The zero value answers Ping and
// holds no images. It is safe for concurrent use.
type Fake struct {
	client.APIClient

	mu sync.Mutex

	// PingErr fails Ping, as a stopped daemon would.
	PingErr error

	// BuildStream is the JSON message stream ImageBuild answers with.
	// See BuildOutput and FailedBuildOutput.
	BuildStream string

	// BuildErr fails ImageBuild before any output is produced.
	BuildErr error

	images map[string]image.InspectResponse

	// Dockerfiles holds the Dockerfile of every build context received.
	Dockerfiles []string

	// BuildOptions holds the options of every ImageBuild call.
	BuildOptions []build.ImageBuildOptions

	// Tagged holds every ImageTag call.
	Tagged []TagCall

	// Removed holds the reference of every ImageRemove call.
	Removed []string

	// Created holds every ContainerCreate call.
	Created []CreateCall

	// Started holds the ID of every started container.
	Started []string

	// RemovedContainers holds the ID of every removed container.
	RemovedContainers []string
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{images: make(map[string]image.InspectResponse)}
}

// AddImage registers an image that ImageInspect will return for id. Env
// entries use the "KEY=value" form of the image config.
func (f *Fake) AddImage(id string, env []string, labels map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.images == nil {
		f.images = make(map[string]image.InspectResponse)
	}
	f.images[id] = image.InspectResponse{
		ID: id,
		Config: &dockerspec.DockerOCIImageConfig{
			ImageConfig: ocispec.ImageConfig{Env: env, Labels: labels},
		},
		Created: "2026-10-14T10:00:00.000000000Z",
	}
}

// BuildOutput is a builder stream that succeeds with imageID.
func BuildOutput(imageID string) string {
	return `{"stream":"Step 1/2 : FROM base\n"}` + "\n" +
		`{"stream":" ---> 1a2b3c4d5e6f\n"}` + "\n" +
		`{"aux":{"ID":"` + imageID + `"}}` + "\n"
}

// FailedBuildOutput is a builder stream whose step fails with message.
func FailedBuildOutput(message string) string {
	return `{"stream":"Step 1/2 : FROM base\n"}` + "\n" +
		`{"errorDetail":{"code":1,"message":"` + message + `"},"error":"` + message + `"}` + "\n"
}

func (f *Fake) Ping(ctx context.Context) (types.Ping, error) {
	if f.PingErr != nil {
		return types.Ping{}, f.PingErr
	}
	return types.Ping{APIVersion: "1.51", OSType: "linux"}, nil
}

func (f *Fake) Close() error { return nil }

// ImageBuild reads the whole build context, as the daemon does, before it
// answers with BuildStream.
func (f *Fake) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	dockerfile, err := readDockerfile(buildContext, options.Dockerfile)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.BuildOptions = append(f.BuildOptions, options)
	if err != nil {
		return build.ImageBuildResponse{}, err
	}
	f.Dockerfiles = append(f.Dockerfiles, dockerfile)
	if f.BuildErr != nil {
		return build.ImageBuildResponse{}, f.BuildErr
	}
	return build.ImageBuildResponse{
		Body:   io.NopCloser(strings.NewReader(f.BuildStream)),
		OSType: "linux",
	}, nil
}

func readDockerfile(r io.Reader, name string) (string, error) {
	var dockerfile string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("invalid build context: %w", err)
		}
		if hdr.Name != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return "", err
		}
		dockerfile = string(data)
	}
	if dockerfile == "" {
		return "", fmt.Errorf("build context has no %s", name)
	}
	return dockerfile, nil
}

func (f *Fake) ImageInspect(ctx context.Context, ref string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	img, ok := f.images[ref]
	if !ok {
		return image.InspectResponse{}, fmt.Errorf("No such image: %s: %w", ref, cerrdefs.ErrNotFound)
	}
	return img, nil
}

func (f *Fake) ImageTag(ctx context.Context, source, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.images[source]; !ok {
		return fmt.Errorf("No such image: %s: %w", source, cerrdefs.ErrNotFound)
	}
	f.Tagged = append(f.Tagged, TagCall{Image: source, Ref: ref})
	return nil
}

func (f *Fake) ImageRemove(ctx context.Context, ref string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.images[ref]; !ok {
		return nil, fmt.Errorf("No such image: %s: %w", ref, cerrdefs.ErrNotFound)
	}
	delete(f.images, ref)
	f.Removed = append(f.Removed, ref)
	return []image.DeleteResponse{{Deleted: ref}}, nil
}

func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.images[config.Image]; !ok {
		return container.CreateResponse{}, fmt.Errorf("No such image: %s: %w", config.Image, cerrdefs.ErrNotFound)
	}
	f.Created = append(f.Created, CreateCall{Config: config, HostConfig: hostConfig, Name: name})
	return container.CreateResponse{ID: fmt.Sprintf("container-%d", len(f.Created))}, nil
}

func (f *Fake) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Started = append(f.Started, id)
	return nil
}

func (f *Fake) ContainerRemove(ctx context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedContainers = append(f.RemovedContainers, id)
	return nil
}
