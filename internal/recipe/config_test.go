package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// testdataPath returns the path to a fixture under this package's testdata
// directory. go test runs with the package directory as working directory.
func testdataPath(t *testing.T, fixture string) string {
	t.Helper()
	return filepath.Join("testdata", fixture)
}

// TestDefaultRecipe verifies the built-in recipe reproduces the seed
// identity store descriptor.
func TestDefaultRecipe(t *testing.T) {
	r := DefaultRecipe()

	assert.Equal(t, "seed-identity-store", r.Name)
	assert.Equal(t, "praekeltfoundation/django-bootstrap:onbuild", r.BaseImage)
	assert.Equal(t, "DJANGO_SETTINGS_MODULE", r.SettingsEnvKey)
	assert.Equal(t, "seed_identity_store.settings", r.SettingsModule)
	assert.Equal(t, "python manage.py collectstatic --noinput", r.CollectCommand)
	assert.Equal(t, "/app/staticfiles", r.StaticRoot)
	assert.Equal(t, "APP_MODULE", r.EntryPointEnvKey)
	assert.Equal(t, "seed_identity_store.wsgi:application", r.EntryPoint)
	assert.Equal(t, 8000, r.SupervisorPort)
	assert.Empty(t, r.ExtraEnv)

	assert.Empty(t, Validate(r), "the default recipe must be valid")
}

func TestLoadRecipe_YAML(t *testing.T) {
	r, err := LoadRecipe(testdataPath(t, "seed-identity-store.yaml"))
	require.NoError(t, err)

	// The fixture spells out the defaults, so it must equal DefaultRecipe.
	assert.Equal(t, DefaultRecipe(), r)
}

// TestLoadRecipe_JSONC verifies comment and trailing-comma stripping and
// that every section overrides its default.
func TestLoadRecipe_JSONC(t *testing.T) {
	r, err := LoadRecipe(testdataPath(t, "custom.jsonc"))
	require.NoError(t, err)

	assert.Equal(t, "app", r.Name)
	assert.Equal(t, "valid-base:tag", r.BaseImage)
	assert.Equal(t, "APP_SETTINGS", r.SettingsEnvKey)
	assert.Equal(t, "app.settings", r.SettingsModule)
	assert.Equal(t, "django-admin collectstatic --no-input", r.CollectCommand)
	assert.Equal(t, "/srv/static", r.StaticRoot)
	// envKey was omitted, so the default is kept.
	assert.Equal(t, "APP_MODULE", r.EntryPointEnvKey)
	assert.Equal(t, "app.wsgi:application", r.EntryPoint)
	assert.Equal(t, 9000, r.SupervisorPort)

	require.Len(t, r.ExtraEnv, 1)
	assert.Equal(t, model.EnvVar{Key: "DATABASE_URL", Value: "sqlite:////tmp/build.db"}, r.ExtraEnv[0])

	assert.Empty(t, Validate(r))
}

func TestLoadRecipe_NotFound(t *testing.T) {
	_, err := LoadRecipe(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitRecipeNotFound, cliErr.Code)
}

// TestLoadRecipe_UnknownField checks that a misspelled section is an error
// rather than a silent fallback to the default entry point.
func TestLoadRecipe_UnknownField(t *testing.T) {
	_, err := LoadRecipe(testdataPath(t, "unknown-field.yaml"))
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitInvalidRecipe, cliErr.Code)
	assert.Contains(t, err.Error(), "entrypoint")
}

func TestLoadRecipe_EmptyYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsgi-image.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	r, err := LoadRecipe(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRecipe(), r)
}

func TestLoadRecipe_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = 'app'\n"), 0o644))

	_, err := LoadRecipe(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported recipe format")
}

func TestFindRecipe(t *testing.T) {
	t.Run("prefers yaml over json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wsgi-image.json"), []byte("{}"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wsgi-image.yaml"), []byte("name: app\n"), 0o644))

		path, err := FindRecipe(dir)
		require.NoError(t, err)
		assert.Equal(t, "wsgi-image.yaml", filepath.Base(path))
		assert.True(t, filepath.IsAbs(path))
	})

	t.Run("nested location", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, ".wsgi-image"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".wsgi-image", "recipe.yaml"), []byte("name: app\n"), 0o644))

		path, err := FindRecipe(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(".wsgi-image", "recipe.yaml"),
			filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path)))
	})

	t.Run("none found", func(t *testing.T) {
		_, err := FindRecipe(t.TempDir())
		require.Error(t, err)

		var cliErr *model.CLIError
		require.True(t, errors.As(err, &cliErr))
		assert.Equal(t, model.ExitRecipeNotFound, cliErr.Code)
	})
}

// TestToRecipe_CopiesEnv guards against aliasing between the raw file
// struct and the returned recipe.
func TestToRecipe_CopiesEnv(t *testing.T) {
	raw := &RawRecipe{Env: []model.EnvVar{{Key: "A", Value: "1"}}}
	r := raw.ToRecipe()

	raw.Env[0].Value = "changed"
	assert.Equal(t, "1", r.ExtraEnv[0].Value)
}
