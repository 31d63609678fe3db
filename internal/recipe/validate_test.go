package recipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// validRecipe returns the scenario recipe used throughout these tests:
// base=valid-base:tag, config-ref=app.settings, entry-ref=app.wsgi:application.
func validRecipe() *model.Recipe {
	return (&RawRecipe{
		Name:       "app",
		BaseImage:  "valid-base:tag",
		Settings:   &SettingsSection{Module: "app.settings"},
		EntryPoint: &EntryPointSection{Ref: "app.wsgi:application"},
	}).ToRecipe()
}

// fields collects the Field of every validation problem for compact asserts.
func fields(problems []ValidationError) []string {
	out := make([]string, 0, len(problems))
	for _, p := range problems {
		out = append(out, p.Field)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, Validate(validRecipe()))
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *model.Recipe)
		wantField string
	}{
		{
			name:      "empty base image",
			mutate:    func(r *model.Recipe) { r.BaseImage = "" },
			wantField: "baseImage",
		},
		{
			name:      "uppercase base image",
			mutate:    func(r *model.Recipe) { r.BaseImage = "Valid-Base:tag" },
			wantField: "baseImage",
		},
		{
			name:      "bad tag",
			mutate:    func(r *model.Recipe) { r.BaseImage = "valid-base:bad tag" },
			wantField: "baseImage",
		},
		{
			name:      "settings path with slash",
			mutate:    func(r *model.Recipe) { r.SettingsModule = "app/settings" },
			wantField: "settingsModule",
		},
		{
			name:      "entry point without callable",
			mutate:    func(r *model.Recipe) { r.EntryPoint = "app.wsgi" },
			wantField: "entryPoint",
		},
		{
			name:      "invalid entry point env key",
			mutate:    func(r *model.Recipe) { r.EntryPointEnvKey = "APP-MODULE" },
			wantField: "entryPointEnvKey",
		},
		{
			name:      "relative static root",
			mutate:    func(r *model.Recipe) { r.StaticRoot = "staticfiles" },
			wantField: "staticRoot",
		},
		{
			name:      "filesystem root as static root",
			mutate:    func(r *model.Recipe) { r.StaticRoot = "/" },
			wantField: "staticRoot",
		},
		{
			name:      "static root cleaning to the filesystem root",
			mutate:    func(r *model.Recipe) { r.StaticRoot = "/app/.." },
			wantField: "staticRoot",
		},
		{
			name:      "port out of range",
			mutate:    func(r *model.Recipe) { r.SupervisorPort = 70000 },
			wantField: "supervisorPort",
		},
		{
			name:      "invalid recipe name",
			mutate:    func(r *model.Recipe) { r.Name = "My App" },
			wantField: "name",
		},
		{
			name: "invalid extra env key",
			mutate: func(r *model.Recipe) {
				r.ExtraEnv = []model.EnvVar{{Key: "OK", Value: "1"}, {Key: "NOT OK", Value: "2"}}
			},
			wantField: "extraEnv[1].key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecipe()
			tt.mutate(r)

			problems := Validate(r)
			require.NotEmpty(t, problems)
			assert.Contains(t, fields(problems), tt.wantField)
		})
	}
}

// TestValidate_ReportsAllProblems verifies that validation does not stop
// at the first failure.
func TestValidate_ReportsAllProblems(t *testing.T) {
	r := validRecipe()
	r.BaseImage = ""
	r.SettingsModule = "bad module"
	r.EntryPoint = "nocolon"

	problems := Validate(r)
	assert.ElementsMatch(t, []string{"baseImage", "settingsModule", "entryPoint"}, fields(problems))
}

func TestValidate_DuplicateEnvKeys(t *testing.T) {
	t.Run("extra env overrides settings key", func(t *testing.T) {
		r := validRecipe()
		r.ExtraEnv = []model.EnvVar{{Key: "DJANGO_SETTINGS_MODULE", Value: "app.settings_other"}}

		problems := Validate(r)
		require.Len(t, problems, 1)
		assert.Equal(t, "extraEnv[0].key", problems[0].Field)
		assert.Contains(t, problems[0].Message, "settingsEnvKey")
	})

	t.Run("entry point key equals settings key", func(t *testing.T) {
		r := validRecipe()
		r.EntryPointEnvKey = r.SettingsEnvKey

		problems := Validate(r)
		require.Len(t, problems, 1)
		assert.Equal(t, "entryPointEnvKey", problems[0].Field)
	})

	t.Run("duplicate within extra env", func(t *testing.T) {
		r := validRecipe()
		r.ExtraEnv = []model.EnvVar{{Key: "A", Value: "1"}, {Key: "A", Value: "2"}}

		problems := Validate(r)
		require.Len(t, problems, 1)
		assert.Equal(t, "extraEnv[1].key", problems[0].Field)
	})
}

func TestValidate_CollectCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr string
	}{
		{name: "manage.py noinput", command: "python manage.py collectstatic --noinput"},
		{name: "django-admin no-input", command: "django-admin collectstatic --no-input --clear"},
		{name: "chained", command: "npm run build && python manage.py collectstatic --noinput"},
		{name: "not collectstatic", command: "make assets"},
		{name: "interactive collectstatic", command: "python manage.py collectstatic", wantErr: "--noinput"},
		{name: "interactive in chain", command: "true && python manage.py collectstatic -v 2", wantErr: "--noinput"},
		{name: "unterminated quote", command: `echo "oops`, wantErr: "invalid shell syntax"},
		{name: "multi line", command: "echo a\necho b", wantErr: "single line"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecipe()
			r.CollectCommand = tt.command

			problems := Validate(r)
			if tt.wantErr == "" {
				assert.Empty(t, problems)
				return
			}
			require.Len(t, problems, 1)
			assert.Equal(t, "collectCommand", problems[0].Field)
			assert.Contains(t, problems[0].Message, tt.wantErr)
		})
	}
}

func TestValidateOrError(t *testing.T) {
	assert.NoError(t, ValidateOrError(validRecipe()))

	r := validRecipe()
	r.EntryPoint = "app.wsgi"
	err := ValidateOrError(r)
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitInvalidRecipe, cliErr.Code)
	assert.Contains(t, err.Error(), "entryPoint")
}

func TestValidationError_Error(t *testing.T) {
	e := &ValidationError{Field: "entryPoint", Message: "is required"}
	assert.Equal(t, "recipe validation error: entryPoint: is required", e.Error())
}
