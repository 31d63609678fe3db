package docker

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// Label key constants define the image label keys used to persist build
// provenance. These labels are the only state wsgi-image keeps; there is
// no external state file.
//
// Management keys share the "wsgi-image." prefix to avoid collisions with
// labels inherited from the base image.
const (
	// LabelPrefix is the common prefix for all wsgi-image labels.
	LabelPrefix = "wsgi-image."

	// LabelManagedBy identifies images built by wsgi-image.
	// Key: "wsgi-image.managed-by", Value: always "wsgi-image".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRecipe stores the recipe name.
	LabelRecipe = LabelPrefix + "recipe"

	// LabelSettingsModule stores the configuration-module reference as
	// declared, independent of what the image env later reports.
	LabelSettingsModule = LabelPrefix + "settings-module"

	// LabelEntryPoint stores the entry-point reference as declared.
	LabelEntryPoint = LabelPrefix + "entry-point"

	// LabelRecipeDigest stores the sha256 of the rendered descriptor.
	LabelRecipeDigest = LabelPrefix + "recipe-digest"

	// LabelRevision is the OCI annotation for the source revision.
	LabelRevision = "org.opencontainers.image.revision"

	// LabelCreated is the OCI annotation for the build timestamp (RFC 3339).
	LabelCreated = "org.opencontainers.image.created"

	// LabelTitle is the OCI annotation for a human-readable image title.
	LabelTitle = "org.opencontainers.image.title"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "wsgi-image"

// BuildLabels constructs the image label map from build provenance.
// The revision label is omitted for non-git source trees.
func BuildLabels(p *model.Provenance) map[string]string {
	labels := map[string]string{
		LabelManagedBy:      ManagedByValue,
		LabelRecipe:         p.Recipe,
		LabelSettingsModule: p.SettingsModule,
		LabelEntryPoint:     p.EntryPoint,
		LabelRecipeDigest:   p.RecipeDigest,
		LabelTitle:          p.Recipe,
		// UTC keeps the label stable regardless of the host timezone.
		LabelCreated: p.Created.UTC().Format(time.RFC3339),
	}
	if p.Revision != "" {
		labels[LabelRevision] = p.Revision
	}
	return labels
}

// ParseLabels reconstructs Provenance from image labels. It is the
// inverse of BuildLabels.
//
// Missing required labels are all reported in one error so a hand-built
// or foreign image is easy to diagnose.
func ParseLabels(labels map[string]string) (*model.Provenance, error) {
	requiredKeys := []string{
		LabelManagedBy,
		LabelRecipe,
		LabelSettingsModule,
		LabelEntryPoint,
		LabelRecipeDigest,
		LabelCreated,
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required image labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreated])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelCreated, err)
	}

	return &model.Provenance{
		Recipe:         labels[LabelRecipe],
		SettingsModule: labels[LabelSettingsModule],
		EntryPoint:     labels[LabelEntryPoint],
		RecipeDigest:   labels[LabelRecipeDigest],
		Revision:       labels[LabelRevision],
		Created:        createdAt,
	}, nil
}

// IsManaged reports whether the labels mark an image built by wsgi-image.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManagedBy] == ManagedByValue
}

// FilterLabels returns the label filter that selects managed images, in
// the "key=value" form accepted by the Docker API "label" filter.
func FilterLabels() string {
	return LabelManagedBy + "=" + ManagedByValue
}
