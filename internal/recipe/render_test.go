package recipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// TestRenderRecipe_Default verifies that the default recipe renders to the
// four-line descriptor, in the fixed order.
func TestRenderRecipe_Default(t *testing.T) {
	data, err := RenderRecipe(DefaultRecipe())
	require.NoError(t, err)

	want := "FROM praekeltfoundation/django-bootstrap:onbuild\n" +
		"ENV DJANGO_SETTINGS_MODULE=\"seed_identity_store.settings\"\n" +
		"RUN python manage.py collectstatic --noinput\n" +
		"ENV APP_MODULE=\"seed_identity_store.wsgi:application\"\n"
	assert.Equal(t, want, string(data))
}

func TestDirectives_Order(t *testing.T) {
	r := validRecipe()
	r.ExtraEnv = []model.EnvVar{{Key: "B", Value: "2"}, {Key: "A", Value: "1"}}

	ds := Directives(r)
	require.Len(t, ds, 6)

	kinds := make([]model.DirectiveKind, 0, len(ds))
	for _, d := range ds {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []model.DirectiveKind{
		model.DirectiveFrom,
		model.DirectiveEnv,
		model.DirectiveEnv,
		model.DirectiveEnv,
		model.DirectiveRun,
		model.DirectiveEnv,
	}, kinds)

	// Extra env keeps declared order; it is not sorted.
	assert.Equal(t, "B", ds[2].Key)
	assert.Equal(t, "A", ds[3].Key)
	assert.Equal(t, "APP_MODULE", ds[5].Key)
}

func TestRender_EscapesEnvValues(t *testing.T) {
	data, err := Render([]model.Directive{
		{Kind: model.DirectiveFrom, Value: "valid-base:tag"},
		{Kind: model.DirectiveEnv, Key: "GREETING", Value: `say "hi" \ pay $5`},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `ENV GREETING="say \"hi\" \\ pay \$5"`)
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name       string
		directives []model.Directive
		wantErr    string
	}{
		{
			name:       "empty",
			directives: nil,
			wantErr:    "must start with a FROM",
		},
		{
			name: "env before from",
			directives: []model.Directive{
				{Kind: model.DirectiveEnv, Key: "A", Value: "1"},
			},
			wantErr: "must start with a FROM",
		},
		{
			name: "second from",
			directives: []model.Directive{
				{Kind: model.DirectiveFrom, Value: "a"},
				{Kind: model.DirectiveFrom, Value: "b"},
			},
			wantErr: "FROM must be the first",
		},
		{
			name: "unknown kind",
			directives: []model.Directive{
				{Kind: model.DirectiveFrom, Value: "a"},
				{Kind: "cmd", Value: "gunicorn"},
			},
			wantErr: "invalid kind",
		},
		{
			name: "newline in run",
			directives: []model.Directive{
				{Kind: model.DirectiveFrom, Value: "a"},
				{Kind: model.DirectiveRun, Value: "echo a\necho b"},
			},
			wantErr: "single line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.directives)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestDigest_Deterministic verifies that identical recipes share a digest
// and that any change to a reference changes it.
func TestDigest_Deterministic(t *testing.T) {
	a, err := Digest(validRecipe())
	require.NoError(t, err)
	b, err := Digest(validRecipe())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "sha256:"))
	assert.Len(t, a, len("sha256:")+64)

	changed := validRecipe()
	changed.EntryPoint = "app.wsgi:app"
	c, err := Digest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
