// validate.go checks a recipe before anything is sent to the image builder.
//
// Only syntax is checked here. Whether the base image can be pulled, the
// settings module imported, or the entry point served is decided by the
// builder and the supervisor; the recipe layer never second-guesses them.
package recipe

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/distribution/reference"
	"github.com/go-playground/validator/v10"
	"mvdan.cc/sh/v3/syntax"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// ValidationError represents a specific validation failure in a recipe.
type ValidationError struct {
	// Field is the recipe field path that failed validation (e.g., "extraEnv[0].key").
	Field string `json:"field"`

	// Message describes what's wrong with the field value.
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("recipe validation error: %s: %s", e.Field, e.Message)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator instance with the recipe
// specific tags registered. validator.Validate caches struct metadata and
// is safe for concurrent use, so one instance serves the whole process.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Report field names as they appear in the JSON form of the recipe,
		// not as Go identifiers.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})

		mustRegister(v, "imageref", func(fl validator.FieldLevel) bool {
			_, err := reference.ParseNormalizedNamed(fl.Field().String())
			return err == nil
		})
		mustRegister(v, "pymodule", func(fl validator.FieldLevel) bool {
			return model.ValidateModuleRef(fl.Field().String()) == nil
		})
		mustRegister(v, "entrypoint", func(fl validator.FieldLevel) bool {
			_, err := model.ParseEntryPoint(fl.Field().String())
			return err == nil
		})
		mustRegister(v, "envkey", func(fl validator.FieldLevel) bool {
			return model.ValidateEnvKey(fl.Field().String()) == nil
		})
		mustRegister(v, "recipename", func(fl validator.FieldLevel) bool {
			return model.ValidateName(fl.Field().String()) == nil
		})
		mustRegister(v, "staticroot", func(fl validator.FieldLevel) bool {
			root := fl.Field().String()
			return path.IsAbs(root) && path.Clean(root) != "/"
		})

		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// Validate performs all syntax checks on a recipe and returns every
// problem found (empty slice = valid recipe), so an operator can fix a
// recipe in one pass.
//
// Checks performed:
//   - Struct tags: required fields, base image reference syntax, module
//     and entry-point reference syntax, env variable names, port range
//   - Env keys are unique, including the two reserved reference keys
//   - The collection command is a single line of valid POSIX shell
//   - A collectstatic invocation passes --noinput (the build has no TTY)
func Validate(r *model.Recipe) []ValidationError {
	var problems []ValidationError

	if err := structValidator().Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return []ValidationError{{Field: "(root)", Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			problems = append(problems, ValidationError{
				Field:   fieldPath(fe),
				Message: describe(fe),
			})
		}
	}

	problems = append(problems, checkEnvKeys(r)...)
	problems = append(problems, checkCollectCommand(r.CollectCommand)...)

	return problems
}

// fieldPath strips the top-level struct name from the validator namespace:
// "Recipe.extraEnv[0].key" → "extraEnv[0].key".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// describe turns a validator tag failure into an operator-facing message.
func describe(fe validator.FieldError) string {
	value := fmt.Sprintf("%v", fe.Value())
	switch fe.Tag() {
	case "required":
		return "is required"
	case "imageref":
		if _, err := reference.ParseNormalizedNamed(value); err != nil {
			return fmt.Sprintf("invalid image reference %q: %v", value, err)
		}
		return fmt.Sprintf("invalid image reference %q", value)
	case "pymodule":
		return model.ValidateModuleRef(value).Error()
	case "entrypoint":
		_, err := model.ParseEntryPoint(value)
		return err.Error()
	case "envkey":
		return model.ValidateEnvKey(value).Error()
	case "recipename":
		return model.ValidateName(value).Error()
	case "staticroot":
		if !path.IsAbs(value) {
			return fmt.Sprintf("must be an absolute path, got %q", value)
		}
		return fmt.Sprintf("must be a directory below /, got %q", value)
	case "min", "max":
		return fmt.Sprintf("must be between 1 and 65535, got %s", value)
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// checkEnvKeys rejects duplicate variable names. A duplicate would make
// the final image value depend on directive order, which would hide a
// mistake such as an extra ENV overriding the settings module.
func checkEnvKeys(r *model.Recipe) []ValidationError {
	var problems []ValidationError

	seen := make(map[string]string)
	for i, e := range r.Env() {
		if e.Key == "" {
			continue // reported by the struct validator
		}
		field := envField(r, i)
		if prev, dup := seen[e.Key]; dup {
			problems = append(problems, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("environment variable %q is already set by %s", e.Key, prev),
			})
			continue
		}
		seen[e.Key] = field
	}

	return problems
}

// envField maps an index into Recipe.Env() back to the recipe field that
// declared it.
func envField(r *model.Recipe, i int) string {
	switch {
	case i == 0:
		return "settingsEnvKey"
	case i == len(r.ExtraEnv)+1:
		return "entryPointEnvKey"
	default:
		return fmt.Sprintf("extraEnv[%d].key", i-1)
	}
}

// checkCollectCommand parses the collection command as POSIX shell and
// inspects the simple commands it contains.
func checkCollectCommand(command string) []ValidationError {
	if strings.TrimSpace(command) == "" {
		return nil // reported by the struct validator
	}
	if strings.ContainsAny(command, "\r\n") {
		return []ValidationError{{
			Field:   "collectCommand",
			Message: "must be a single line; chain steps with && instead",
		}}
	}

	file, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(command), "collectCommand")
	if err != nil {
		return []ValidationError{{
			Field:   "collectCommand",
			Message: fmt.Sprintf("invalid shell syntax: %v", err),
		}}
	}

	var problems []ValidationError
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		if invokesCollectStatic(call) && !hasNoInput(call) {
			problems = append(problems, ValidationError{
				Field:   "collectCommand",
				Message: "collectstatic must run non-interactively: add --noinput",
			})
		}
		return true
	})

	return problems
}

// callArgs returns the literal words of a simple command. Words that
// contain expansions are returned as empty strings.
func callArgs(call *syntax.CallExpr) []string {
	args := make([]string, 0, len(call.Args))
	for _, w := range call.Args {
		args = append(args, w.Lit())
	}
	return args
}

func invokesCollectStatic(call *syntax.CallExpr) bool {
	for _, a := range callArgs(call) {
		if a == "collectstatic" {
			return true
		}
	}
	return false
}

func hasNoInput(call *syntax.CallExpr) bool {
	for _, a := range callArgs(call) {
		if a == "--noinput" || a == "--no-input" {
			return true
		}
	}
	return false
}

// ValidateOrError runs Validate and folds any problems into a single
// CLIError with ExitInvalidRecipe, for callers that only need pass/fail.
func ValidateOrError(r *model.Recipe) error {
	problems := Validate(r)
	if len(problems) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.Field+": "+p.Message)
	}
	return model.NewCLIError(
		model.ExitInvalidRecipe,
		fmt.Sprintf("recipe %q is invalid:\n  %s", r.Name, strings.Join(msgs, "\n  ")),
	)
}
