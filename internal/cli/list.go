package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/docker"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// listEntry is one row of "list" output.
type listEntry struct {
	ID       string    `json:"id"`
	Tags     []string  `json:"tags"`
	Recipe   string    `json:"recipe"`
	Revision string    `json:"revision,omitempty"`
	Created  time.Time `json:"created"`
	Running  int       `json:"running"`
}

// listFlags holds the flag values for the list command.
type listFlags struct {
	// recipe limits the output to images built from the named recipe.
	recipe string
}

// NewListCommand creates the "list" command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List images built by wsgi-image",
		Long: `List local images carrying the wsgi-image provenance labels, newest first,
with the number of supervisor containers left running from each.

Examples:
  wsgi-image list
  wsgi-image list --for seed-identity-store --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.recipe, "for", "", "Only list images built from this recipe")

	return cmd
}

func runList(ctx context.Context, cmd *cobra.Command, flags *listFlags) error {
	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	images, err := docker.ListManagedImages(ctx, cli)
	if err != nil {
		return err
	}
	containers, err := docker.ListServiceContainers(ctx, cli, "")
	if err != nil {
		return err
	}
	VerboseLog("found %d managed images and %d supervisor containers", len(images), len(containers))

	entries := buildListEntries(images, containers, flags.recipe)
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	printListResultText(cmd.OutOrStdout(), entries)
	return nil
}

// buildListEntries joins images with the running containers started from
// them.
func buildListEntries(images []model.ImageInfo, containers []model.ContainerInfo, recipeFilter string) []listEntry {
	entries := make([]listEntry, 0, len(images))
	for _, img := range images {
		name := img.Labels[docker.LabelRecipe]
		if recipeFilter != "" && name != recipeFilter {
			continue
		}
		entries = append(entries, listEntry{
			ID:       img.ID,
			Tags:     nonNil(img.Tags),
			Recipe:   name,
			Revision: img.Labels[docker.LabelRevision],
			Created:  img.Created,
			Running:  len(containersFor(img, containers, true)),
		})
	}
	return entries
}

// containersFor returns the containers started from img. With runningOnly,
// stopped containers are left out.
//
// "run" records the resolved image ID in the container's image label, so
// the match is on ID alone. Tags cannot be used: the same image can be
// started as "app", "app:latest" or "docker.io/library/app:latest", and a
// tag may have moved to a newer build since.
func containersFor(img model.ImageInfo, containers []model.ContainerInfo, runningOnly bool) []model.ContainerInfo {
	var matched []model.ContainerInfo
	for _, c := range containers {
		if c.Image != img.ID {
			continue
		}
		if runningOnly && c.Status != "running" {
			continue
		}
		matched = append(matched, c)
	}
	return matched
}

// printListResultText writes the entries as an aligned table:
//
//	IMAGE         RECIPE                TAGS                        RUNNING  CREATED
//	3f1b2c4d5e6f  seed-identity-store   seed-identity-store:latest  1        2026-10-14T10:00:00Z
func printListResultText(w io.Writer, entries []listEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No wsgi-image images found.")
		return
	}

	fmt.Fprintf(w, "%-14s %-22s %-40s %-8s %s\n", "IMAGE", "RECIPE", "TAGS", "RUNNING", "CREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%-14s %-22s %-40s %-8d %s\n",
			shortID(e.ID),
			e.Recipe,
			FormatTagsList(e.Tags),
			e.Running,
			e.Created.UTC().Format(time.RFC3339),
		)
	}
}

// FormatTagsList joins tags into a sorted comma-separated string, or "-"
// for an untagged image.
func FormatTagsList(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
