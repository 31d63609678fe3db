package docker

import (
	"context"
	"fmt"
	"sort"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// InspectImage returns the configuration env, labels, and tags of an image.
// ref may be an image ID or a tag.
//
// Returns a model.CLIError with ExitImageNotFound if the image does not
// exist locally.
func InspectImage(ctx context.Context, cli *Client, ref string) (*model.ImageInfo, error) {
	resp, err := cli.Inner().ImageInspect(ctx, ref)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, model.WrapCLIError(
				model.ExitImageNotFound,
				fmt.Sprintf("image %q not found", ref),
				err,
			)
		}
		return nil, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	info := &model.ImageInfo{
		ID:   resp.ID,
		Tags: resp.RepoTags,
	}
	if resp.Config != nil {
		info.Env = model.ParseEnvList(resp.Config.Env)
		info.Labels = resp.Config.Labels
	}
	if resp.Created != "" {
		if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
			info.Created = created
		}
	}
	return info, nil
}

// TagImage points tag at the image identified by imageID. An existing tag
// is moved.
func TagImage(ctx context.Context, cli *Client, imageID, tag string) error {
	if err := cli.Inner().ImageTag(ctx, imageID, tag); err != nil {
		return fmt.Errorf("failed to tag image %s as %s: %w", imageID, tag, err)
	}
	return nil
}

// RemoveImage deletes an image and its untagged parents. With force, the
// image is removed even if stopped containers still reference it.
func RemoveImage(ctx context.Context, cli *Client, ref string, force bool) error {
	_, err := cli.Inner().ImageRemove(ctx, ref, image.RemoveOptions{
		Force:         force,
		PruneChildren: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return model.WrapCLIError(
				model.ExitImageNotFound,
				fmt.Sprintf("image %q not found", ref),
				err,
			)
		}
		return fmt.Errorf("failed to remove image %s: %w", ref, err)
	}
	return nil
}

// ListManagedImages returns every local image carrying the wsgi-image
// managed-by label, newest first.
func ListManagedImages(ctx context.Context, cli *Client) ([]model.ImageInfo, error) {
	summaries, err := cli.Inner().ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", FilterLabels())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]model.ImageInfo, 0, len(summaries))
	for _, s := range summaries {
		images = append(images, model.ImageInfo{
			ID:      s.ID,
			Tags:    s.RepoTags,
			Labels:  s.Labels,
			Created: time.Unix(s.Created, 0).UTC(),
		})
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Created.After(images[j].Created)
	})
	return images, nil
}
