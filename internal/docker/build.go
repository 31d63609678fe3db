package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// BuildRequest describes a single image build.
type BuildRequest struct {
	// ContextDir is the application source tree sent as the build context.
	ContextDir string

	// Dockerfile is the rendered descriptor injected into the context.
	Dockerfile []byte

	// Labels are applied to the resulting image.
	Labels map[string]string

	// NoCache disables the layer cache.
	NoCache bool

	// Pull always attempts to pull a newer version of the base image.
	Pull bool

	// OnLine receives each line of builder output. May be nil.
	OnLine func(line string)
}

// BuildResult is the outcome of a successful build.
type BuildResult struct {
	// ImageID is the content-addressed ID of the untagged image.
	ImageID string
}

// BuildImage sends the build context to the daemon and waits for the build
// to finish. The image is left untagged; callers tag it with TagImage once
// they have verified it, so a failed build never moves an existing tag.
//
// The builder aborts on the first failing directive. That failure, and any
// failure to resolve the base image, is reported as a model.CLIError with
// ExitBuildFailed.
func BuildImage(ctx context.Context, cli *Client, req BuildRequest) (*BuildResult, error) {
	ignore, err := LoadIgnorePatterns(req.ContextDir)
	if err != nil {
		return nil, err
	}

	buildCtx, err := BuildContext(req.ContextDir, req.Dockerfile, ignore)
	if err != nil {
		return nil, err
	}
	defer buildCtx.Close()

	resp, err := cli.Inner().ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Dockerfile:  DockerfileName,
		Labels:      req.Labels,
		NoCache:     req.NoCache,
		PullParent:  req.Pull,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitBuildFailed, "failed to start image build", err)
	}
	defer resp.Body.Close()

	imageID, err := readBuildStream(resp.Body, req.OnLine)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitBuildFailed, "image build failed", err)
	}

	return &BuildResult{ImageID: imageID}, nil
}

// buildAux is the payload of the auxiliary record the builder emits once
// the final image has been committed.
type buildAux struct {
	ID string `json:"ID"`
}

// readBuildStream consumes the builder's JSON message stream. It returns
// the built image ID, or the first error record the builder reported.
func readBuildStream(r io.Reader, onLine func(string)) (string, error) {
	dec := json.NewDecoder(r)
	var imageID string

	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("failed to decode build output: %w", err)
		}

		if msg.Error != nil {
			return "", msg.Error
		}

		if msg.Aux != nil {
			var aux buildAux
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
				imageID = aux.ID
			}
		}

		if onLine == nil {
			continue
		}
		for _, line := range strings.Split(msg.Stream, "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				onLine(line)
			}
		}
		if msg.Status != "" {
			onLine(strings.TrimSpace(msg.ID + " " + msg.Status))
		}
	}

	if imageID == "" {
		return "", errors.New("build finished without reporting an image ID")
	}
	return imageID, nil
}
