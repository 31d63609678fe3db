package recipe

import (
	"fmt"
	"strings"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// EnvMismatch is a declared variable that the image does not carry with
// the declared value.
type EnvMismatch struct {
	Key     string `json:"key"`
	Want    string `json:"want"`
	Got     string `json:"got,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

func (m EnvMismatch) String() string {
	if m.Missing {
		return fmt.Sprintf("%s is not set (want %q)", m.Key, m.Want)
	}
	return fmt.Sprintf("%s=%q (want %q)", m.Key, m.Got, m.Want)
}

// CheckImageEnv compares every variable the recipe declares against the
// environment persisted in the image config. Values must round-trip
// byte for byte.
func CheckImageEnv(r *model.Recipe, info *model.ImageInfo) []EnvMismatch {
	var mismatches []EnvMismatch
	for _, want := range r.Env() {
		got, ok := info.LookupEnv(want.Key)
		switch {
		case !ok:
			mismatches = append(mismatches, EnvMismatch{Key: want.Key, Want: want.Value, Missing: true})
		case got != want.Value:
			mismatches = append(mismatches, EnvMismatch{Key: want.Key, Want: want.Value, Got: got})
		}
	}
	return mismatches
}

// VerifyImageEnv is CheckImageEnv as an error: a model.CLIError with
// ExitVerificationFailed listing every mismatch, or nil.
func VerifyImageEnv(r *model.Recipe, info *model.ImageInfo) error {
	mismatches := CheckImageEnv(r, info)
	if len(mismatches) == 0 {
		return nil
	}
	parts := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		parts = append(parts, m.String())
	}
	return model.NewCLIError(
		model.ExitVerificationFailed,
		"image environment does not match the recipe: "+strings.Join(parts, "; "),
	)
}
