package recipe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// Defaults applied when a recipe file omits a field. They reproduce the
// descriptor of the seed identity store service built on the
// django-bootstrap base image, whose working directory is /app and whose
// supervisor (gunicorn) listens on 8000.
const (
	DefaultName             = "seed-identity-store"
	DefaultBaseImage        = "praekeltfoundation/django-bootstrap:onbuild"
	DefaultSettingsEnvKey   = "DJANGO_SETTINGS_MODULE"
	DefaultSettingsModule   = "seed_identity_store.settings"
	DefaultCollectCommand   = "python manage.py collectstatic --noinput"
	DefaultStaticRoot       = "/app/staticfiles"
	DefaultEntryPointEnvKey = "APP_MODULE"
	DefaultEntryPoint       = "seed_identity_store.wsgi:application"
	DefaultSupervisorPort   = 8000
)

// StandardFileNames lists the recipe file locations FindRecipe checks,
// relative to the source tree root, in priority order.
var StandardFileNames = []string{
	"wsgi-image.yaml",
	"wsgi-image.yml",
	"wsgi-image.json",
	filepath.Join(".wsgi-image", "recipe.yaml"),
}

// RawRecipe mirrors the on-disk recipe file. Sections are pointers so
// that an omitted section can be told apart from an empty one and filled
// with defaults by ToRecipe.
//
// Example (YAML):
//
//	name: seed-identity-store
//	baseImage: praekeltfoundation/django-bootstrap:onbuild
//	settings:
//	  module: seed_identity_store.settings
//	collect:
//	  command: python manage.py collectstatic --noinput
//	entryPoint:
//	  ref: seed_identity_store.wsgi:application
type RawRecipe struct {
	Name       string             `json:"name" yaml:"name"`
	BaseImage  string             `json:"baseImage" yaml:"baseImage"`
	Settings   *SettingsSection   `json:"settings,omitempty" yaml:"settings,omitempty"`
	Env        []model.EnvVar     `json:"env,omitempty" yaml:"env,omitempty"`
	Collect    *CollectSection    `json:"collect,omitempty" yaml:"collect,omitempty"`
	EntryPoint *EntryPointSection `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
	Supervisor *SupervisorSection `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
}

// SettingsSection declares the configuration-module reference.
type SettingsSection struct {
	// EnvKey is the variable the framework reads. Defaults to DJANGO_SETTINGS_MODULE.
	EnvKey string `json:"envKey,omitempty" yaml:"envKey,omitempty"`

	// Module is the dotted settings module path.
	Module string `json:"module" yaml:"module"`
}

// CollectSection declares the build-time asset collection step.
type CollectSection struct {
	// Command runs once inside the image context. It must not prompt.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// StaticRoot is the absolute in-image directory the command writes.
	StaticRoot string `json:"staticRoot,omitempty" yaml:"staticRoot,omitempty"`
}

// EntryPointSection declares the reference the supervisor imports.
type EntryPointSection struct {
	// EnvKey is the variable the supervisor reads. Defaults to APP_MODULE.
	EnvKey string `json:"envKey,omitempty" yaml:"envKey,omitempty"`

	// Ref is the "<module>:<callable>" reference.
	Ref string `json:"ref" yaml:"ref"`
}

// SupervisorSection describes the runtime supervisor baked into the base image.
type SupervisorSection struct {
	// Port is the container port the supervisor listens on.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
}

// DefaultRecipe returns the built-in recipe, equivalent to the seed
// identity store descriptor. It is used when no recipe file is found
// and --recipe is not given.
func DefaultRecipe() *model.Recipe {
	return (&RawRecipe{}).ToRecipe()
}

// ToRecipe converts the raw file structure into a model.Recipe, filling
// every omitted field with its default. The result is not validated;
// call Validate before rendering.
func (raw *RawRecipe) ToRecipe() *model.Recipe {
	r := &model.Recipe{
		Name:             valueOr(raw.Name, DefaultName),
		BaseImage:        valueOr(raw.BaseImage, DefaultBaseImage),
		SettingsEnvKey:   DefaultSettingsEnvKey,
		SettingsModule:   DefaultSettingsModule,
		CollectCommand:   DefaultCollectCommand,
		StaticRoot:       DefaultStaticRoot,
		EntryPointEnvKey: DefaultEntryPointEnvKey,
		EntryPoint:       DefaultEntryPoint,
		SupervisorPort:   DefaultSupervisorPort,
	}

	if raw.Settings != nil {
		r.SettingsEnvKey = valueOr(raw.Settings.EnvKey, r.SettingsEnvKey)
		r.SettingsModule = valueOr(raw.Settings.Module, r.SettingsModule)
	}
	if raw.Collect != nil {
		r.CollectCommand = valueOr(strings.TrimSpace(raw.Collect.Command), r.CollectCommand)
		r.StaticRoot = valueOr(raw.Collect.StaticRoot, r.StaticRoot)
	}
	if raw.EntryPoint != nil {
		r.EntryPointEnvKey = valueOr(raw.EntryPoint.EnvKey, r.EntryPointEnvKey)
		r.EntryPoint = valueOr(raw.EntryPoint.Ref, r.EntryPoint)
	}
	if raw.Supervisor != nil && raw.Supervisor.Port != 0 {
		r.SupervisorPort = raw.Supervisor.Port
	}
	if len(raw.Env) > 0 {
		// Copy so later mutation of the raw struct cannot leak into the recipe.
		r.ExtraEnv = append([]model.EnvVar(nil), raw.Env...)
	}

	return r
}

// valueOr returns v unless it is empty, in which case def is returned.
func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// LoadRecipe reads a recipe file and returns the defaulted model.Recipe.
//
// The format is chosen by extension: .yaml/.yml are parsed with yaml.v3,
// .json/.jsonc are stripped of comments and trailing commas with
// tidwall/jsonc and parsed with encoding/json. Unknown fields are
// rejected in both formats so typos do not silently fall back to defaults.
//
// Returns a CLIError with ExitRecipeNotFound if the file does not exist.
func LoadRecipe(path string) (*model.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.WrapCLIError(
				model.ExitRecipeNotFound,
				fmt.Sprintf("recipe not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	raw, err := parseRaw(path, data)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitInvalidRecipe,
			fmt.Sprintf("failed to parse recipe at %s", path),
			err,
		)
	}

	return raw.ToRecipe(), nil
}

// parseRaw decodes recipe bytes according to the file extension.
func parseRaw(path string, data []byte) (*RawRecipe, error) {
	var raw RawRecipe

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty YAML document decodes to io.EOF; treat it as "all defaults".
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported recipe format %q (valid: .yaml, .yml, .json, .jsonc)", ext)
	}

	return &raw, nil
}

// FindRecipe searches dir for a recipe file in the standard locations
// (see StandardFileNames) and returns the absolute path of the first match.
//
// Returns a CLIError with ExitRecipeNotFound if none exists.
func FindRecipe(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", dir, err)
	}

	for _, name := range StandardFileNames {
		candidate := filepath.Join(absDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", model.NewCLIError(
		model.ExitRecipeNotFound,
		fmt.Sprintf("no recipe found in %s (looked for %s)", absDir, strings.Join(StandardFileNames, ", ")),
	)
}
