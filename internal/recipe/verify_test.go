package recipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

func imageWithEnv(env ...string) *model.ImageInfo {
	return &model.ImageInfo{
		ID:  "sha256:feed",
		Env: model.ParseEnvList(env),
	}
}

func TestCheckImageEnv(t *testing.T) {
	r := DefaultRecipe()

	tests := []struct {
		name string
		info *model.ImageInfo
		want []EnvMismatch
	}{
		{
			name: "round trip",
			info: imageWithEnv(
				"PATH=/usr/local/bin:/usr/bin",
				"DJANGO_SETTINGS_MODULE=seed_identity_store.settings",
				"APP_MODULE=seed_identity_store.wsgi:application",
			),
		},
		{
			name: "entry point missing",
			info: imageWithEnv("DJANGO_SETTINGS_MODULE=seed_identity_store.settings"),
			want: []EnvMismatch{
				{Key: "APP_MODULE", Want: "seed_identity_store.wsgi:application", Missing: true},
			},
		},
		{
			name: "settings overridden by a later layer",
			info: imageWithEnv(
				"DJANGO_SETTINGS_MODULE=other.settings",
				"APP_MODULE=seed_identity_store.wsgi:application",
			),
			want: []EnvMismatch{
				{Key: "DJANGO_SETTINGS_MODULE", Want: "seed_identity_store.settings", Got: "other.settings"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckImageEnv(r, tt.info))
		})
	}
}

func TestCheckImageEnv_ExtraEnv(t *testing.T) {
	r := DefaultRecipe()
	r.ExtraEnv = []model.EnvVar{{Key: "DATABASE_URL", Value: `sqlite:////tmp/"x".db`}}

	info := imageWithEnv(
		"DJANGO_SETTINGS_MODULE=seed_identity_store.settings",
		`DATABASE_URL=sqlite:////tmp/"x".db`,
		"APP_MODULE=seed_identity_store.wsgi:application",
	)
	assert.Empty(t, CheckImageEnv(r, info))
}

func TestVerifyImageEnv(t *testing.T) {
	r := DefaultRecipe()

	require.NoError(t, VerifyImageEnv(r, imageWithEnv(
		"DJANGO_SETTINGS_MODULE=seed_identity_store.settings",
		"APP_MODULE=seed_identity_store.wsgi:application",
	)))

	err := VerifyImageEnv(r, imageWithEnv())
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitVerificationFailed, cliErr.Code)
	assert.Contains(t, err.Error(), "DJANGO_SETTINGS_MODULE is not set")
	assert.Contains(t, err.Error(), "APP_MODULE is not set")
}
