// Package model defines the domain types for the wsgi-image CLI.
//
// A deployment image is described by four things: a base image, a
// configuration-module reference, one build-time asset collection command,
// and an entry-point reference the runtime supervisor reads at container
// start. Both references are process-wide environment variables that are
// set once at build time and never mutated afterwards.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DirectiveKind identifies one build-time instruction of the descriptor.
// The descriptor only ever uses three kinds, always in the fixed order
// produced by recipe.Directives:
//
//	from → env (settings) → env (extra)* → run (collect) → env (entry point)
type DirectiveKind string

const (
	// DirectiveFrom selects the base image the build derives from.
	DirectiveFrom DirectiveKind = "from"

	// DirectiveEnv sets a process-wide environment variable that is visible
	// to every later build step and persisted into the final image config.
	DirectiveEnv DirectiveKind = "env"

	// DirectiveRun executes a shell command inside the image context.
	// A non-zero exit aborts the build.
	DirectiveRun DirectiveKind = "run"
)

// String returns the string representation of DirectiveKind.
func (k DirectiveKind) String() string {
	return string(k)
}

// IsValid checks whether the DirectiveKind value is one of the
// predefined valid kinds.
func (k DirectiveKind) IsValid() bool {
	switch k {
	case DirectiveFrom, DirectiveEnv, DirectiveRun:
		return true
	default:
		return false
	}
}

// Instruction returns the Dockerfile keyword for the directive kind.
func (k DirectiveKind) Instruction() string {
	return strings.ToUpper(string(k))
}

// ParseDirectiveKind converts a string to a DirectiveKind.
// Matching is case-insensitive so Dockerfile keywords ("FROM") are accepted.
func ParseDirectiveKind(s string) (DirectiveKind, error) {
	kind := DirectiveKind(strings.ToLower(s))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid directive kind: %q (valid: from, env, run)", s)
	}
	return kind, nil
}

// Directive is a single build-time instruction.
//
// For DirectiveFrom, Value holds the image reference.
// For DirectiveEnv, Key and Value hold the variable.
// For DirectiveRun, Value holds the shell command.
type Directive struct {
	Kind  DirectiveKind `json:"kind"`
	Key   string        `json:"key,omitempty"`
	Value string        `json:"value"`
}

// EnvVar is an ordered environment variable declaration.
type EnvVar struct {
	Key   string `json:"key" yaml:"key" validate:"required,envkey"`
	Value string `json:"value" yaml:"value"`
}

// Recipe is the operator-facing description of a deployment image.
// It is loaded from a recipe file (see package recipe) or taken from
// recipe.DefaultRecipe.
type Recipe struct {
	// Name identifies the recipe in image labels and CLI output.
	Name string `json:"name" validate:"required,recipename"`

	// BaseImage is the image reference (name + optional tag or digest)
	// the build derives from. It is pulled by the builder, not here.
	BaseImage string `json:"baseImage" validate:"required,imageref"`

	// SettingsEnvKey is the variable that carries SettingsModule.
	// Defaults to DJANGO_SETTINGS_MODULE.
	SettingsEnvKey string `json:"settingsEnvKey" validate:"required,envkey"`

	// SettingsModule is the dotted configuration-module reference the
	// framework resolves to load settings, both during collection and
	// at runtime.
	SettingsModule string `json:"settingsModule" validate:"required,pymodule"`

	// ExtraEnv holds additional variables set between the settings
	// variable and the collection command, in declared order.
	ExtraEnv []EnvVar `json:"extraEnv,omitempty" validate:"dive"`

	// CollectCommand is the build-time static asset collection command.
	CollectCommand string `json:"collectCommand" validate:"required"`

	// StaticRoot is the absolute in-image directory the collection
	// command writes to. The filesystem root is not a valid static root.
	StaticRoot string `json:"staticRoot" validate:"required,staticroot"`

	// EntryPointEnvKey is the variable the supervisor reads to locate
	// the application. Defaults to APP_MODULE.
	EntryPointEnvKey string `json:"entryPointEnvKey" validate:"required,envkey"`

	// EntryPoint is the "<module>:<callable>" reference the supervisor
	// imports and serves.
	EntryPoint string `json:"entryPoint" validate:"required,entrypoint"`

	// SupervisorPort is the container port the supervisor listens on.
	SupervisorPort int `json:"supervisorPort" validate:"min=1,max=65535"`
}

// Env returns every environment variable the recipe declares, in the
// order they are set during the build.
func (r *Recipe) Env() []EnvVar {
	env := make([]EnvVar, 0, len(r.ExtraEnv)+2)
	env = append(env, EnvVar{Key: r.SettingsEnvKey, Value: r.SettingsModule})
	env = append(env, r.ExtraEnv...)
	env = append(env, EnvVar{Key: r.EntryPointEnvKey, Value: r.EntryPoint})
	return env
}

// modulePathRegex matches a dotted Python import path: one or more
// identifiers separated by single dots.
var modulePathRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidateModuleRef checks that ref is a syntactically valid dotted
// module path such as "seed_identity_store.settings". It does not check
// that the module can be imported; that only happens inside the image.
func ValidateModuleRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("module reference must not be empty")
	}
	if !modulePathRegex.MatchString(ref) {
		return fmt.Errorf("invalid module reference %q: must be a dotted import path", ref)
	}
	return nil
}

// EntryPointRef is a parsed "<importable-module-path>:<callable-name>"
// reference.
type EntryPointRef struct {
	Module   string `json:"module"`
	Callable string `json:"callable"`
}

// ParseEntryPoint splits an entry-point reference on its single colon and
// validates both halves. The callable half may be a dotted attribute path
// ("factory.app"), which WSGI supervisors resolve with getattr chains.
func ParseEntryPoint(s string) (EntryPointRef, error) {
	module, callable, ok := strings.Cut(s, ":")
	if !ok {
		return EntryPointRef{}, fmt.Errorf("invalid entry point %q: expected <module>:<callable>", s)
	}
	if strings.Contains(callable, ":") {
		return EntryPointRef{}, fmt.Errorf("invalid entry point %q: more than one ':'", s)
	}
	if err := ValidateModuleRef(module); err != nil {
		return EntryPointRef{}, fmt.Errorf("invalid entry point %q: %w", s, err)
	}
	if !modulePathRegex.MatchString(callable) {
		return EntryPointRef{}, fmt.Errorf("invalid entry point %q: callable %q is not an identifier", s, callable)
	}
	return EntryPointRef{Module: module, Callable: callable}, nil
}

// String returns the "<module>:<callable>" form.
func (e EntryPointRef) String() string {
	return e.Module + ":" + e.Callable
}

// envKeyRegex matches portable environment variable names.
var envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateEnvKey checks that key is a portable environment variable name.
func ValidateEnvKey(key string) error {
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable name %q", key)
	}
	return nil
}

// recipeNameRegex validates recipe names: lowercase alphanumeric plus
// '-', '_' and '.', so they can double as image repository names.
var recipeNameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

// ValidateName checks if the given name is a valid recipe name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("recipe name must not be empty")
	}
	if !recipeNameRegex.MatchString(name) {
		return fmt.Errorf("invalid recipe name %q: must be lowercase alphanumeric with '-', '_' or '.', and start/end with alphanumeric", name)
	}
	return nil
}

// ImageInfo holds what the builder produced, as reported by the Docker API.
// This data is fetched dynamically, never persisted.
type ImageInfo struct {
	// ID is the content-addressable image ID ("sha256:...").
	ID string `json:"id"`

	// Tags lists the repository tags pointing at the image.
	Tags []string `json:"tags,omitempty"`

	// Env is the process environment persisted in the image config,
	// in image order.
	Env []EnvVar `json:"env,omitempty"`

	// Labels is the full set of image labels, including the
	// wsgi-image.* management labels.
	Labels map[string]string `json:"labels,omitempty"`

	// Created is the image creation timestamp.
	Created time.Time `json:"created"`
}

// LookupEnv returns the value of key in the image environment.
func (i *ImageInfo) LookupEnv(key string) (string, bool) {
	for _, e := range i.Env {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Provenance records which recipe produced an image and from which source
// revision. It is persisted as image labels and reconstructed from them,
// so no state is kept outside the image itself.
type Provenance struct {
	// Recipe is the recipe name.
	Recipe string `json:"recipe"`

	// SettingsModule and EntryPoint are the references as declared at build time.
	SettingsModule string `json:"settingsModule"`
	EntryPoint     string `json:"entryPoint"`

	// RecipeDigest is the sha256 of the rendered descriptor.
	RecipeDigest string `json:"recipeDigest"`

	// Revision is the source tree commit, empty for non-git trees.
	// A "-dirty" suffix marks uncommitted changes.
	Revision string `json:"revision,omitempty"`

	// Created is when the build was started.
	Created time.Time `json:"created"`
}

// ContainerInfo describes a container started from a managed image, used
// to find supervisors left running with --keep. Image is the ID of the
// image the container was started from.
type ContainerInfo struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image"`
	Status string            `json:"status"`
	Labels map[string]string `json:"labels,omitempty"`
}

// ParseEnvList converts "KEY=value" strings (the Docker API form) into
// ordered EnvVars. Entries without '=' are kept with an empty value.
func ParseEnvList(list []string) []EnvVar {
	env := make([]EnvVar, 0, len(list))
	for _, kv := range list {
		key, value, _ := strings.Cut(kv, "=")
		env = append(env, EnvVar{Key: key, Value: value})
	}
	return env
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// CI systems to tell a build-time fatal from a start-time fatal.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitRecipeNotFound indicates no recipe file was found.
	ExitRecipeNotFound ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitInvalidRecipe indicates the recipe failed validation.
	ExitInvalidRecipe ExitCode = 4

	// ExitBuildFailed indicates a build-time fatal: the base image could
	// not be resolved or the collection command exited non-zero.
	// No image is tagged.
	ExitBuildFailed ExitCode = 5

	// ExitStartFailed indicates a start-time fatal: the supervisor exited
	// before listening, typically because the entry point cannot be imported.
	ExitStartFailed ExitCode = 6

	// ExitImageNotFound indicates the referenced image does not exist.
	ExitImageNotFound ExitCode = 7

	// ExitVerificationFailed indicates the image does not carry the
	// declared references (environment round-trip mismatch) or a probe failed.
	ExitVerificationFailed ExitCode = 8
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
