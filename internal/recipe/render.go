package recipe

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// Directives returns the fixed, ordered build directive sequence for r.
// The order matters: the collection step must see the settings variable,
// and the entry-point variable is declared after collection so a change
// to it never invalidates the cached collection layer.
func Directives(r *model.Recipe) []model.Directive {
	directives := make([]model.Directive, 0, len(r.ExtraEnv)+4)

	directives = append(directives, model.Directive{Kind: model.DirectiveFrom, Value: r.BaseImage})
	directives = append(directives, model.Directive{Kind: model.DirectiveEnv, Key: r.SettingsEnvKey, Value: r.SettingsModule})
	for _, e := range r.ExtraEnv {
		directives = append(directives, model.Directive{Kind: model.DirectiveEnv, Key: e.Key, Value: e.Value})
	}
	directives = append(directives, model.Directive{Kind: model.DirectiveRun, Value: r.CollectCommand})
	directives = append(directives, model.Directive{Kind: model.DirectiveEnv, Key: r.EntryPointEnvKey, Value: r.EntryPoint})

	return directives
}

// Render writes the directives as Dockerfile text, one instruction per
// line. Output is deterministic: the same directives always render to the
// same bytes, which is what Digest relies on.
//
// ENV values are always double-quoted; RUN uses shell form so the base
// image's shell performs word splitting the same way it would for a
// hand-written descriptor.
func Render(directives []model.Directive) ([]byte, error) {
	var buf bytes.Buffer

	for i, d := range directives {
		if !d.Kind.IsValid() {
			return nil, fmt.Errorf("directive %d: invalid kind %q", i, d.Kind)
		}
		if strings.ContainsAny(d.Key+d.Value, "\r\n") {
			return nil, fmt.Errorf("directive %d (%s): value must be a single line", i, d.Kind.Instruction())
		}

		switch d.Kind {
		case model.DirectiveFrom:
			if i != 0 {
				return nil, fmt.Errorf("directive %d: FROM must be the first directive", i)
			}
			fmt.Fprintf(&buf, "FROM %s\n", d.Value)
		case model.DirectiveEnv:
			fmt.Fprintf(&buf, "ENV %s=%s\n", d.Key, quoteEnvValue(d.Value))
		case model.DirectiveRun:
			fmt.Fprintf(&buf, "RUN %s\n", d.Value)
		}
	}

	if len(directives) == 0 || directives[0].Kind != model.DirectiveFrom {
		return nil, fmt.Errorf("descriptor must start with a FROM directive")
	}

	return buf.Bytes(), nil
}

// RenderRecipe is shorthand for Render(Directives(r)).
func RenderRecipe(r *model.Recipe) ([]byte, error) {
	return Render(Directives(r))
}

// quoteEnvValue double-quotes an ENV value using Dockerfile escaping rules.
// '$' is escaped so the value is stored literally rather than expanded
// against earlier ENV declarations.
func quoteEnvValue(v string) string {
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for _, r := range v {
		switch r {
		case '"', '\\', '$':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// Digest returns the content digest ("sha256:<hex>") of the rendered
// descriptor. It is recorded as an image label so an image can be traced
// back to the exact recipe that produced it.
func Digest(r *model.Recipe) (string, error) {
	data, err := RenderRecipe(r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data)), nil
}
