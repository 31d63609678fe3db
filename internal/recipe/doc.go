// Package recipe handles loading, validation, and rendering of image
// build recipes for the wsgi-image CLI.
//
// A recipe names four things: the base image, the configuration-module
// reference, the static asset collection command, and the entry-point
// reference. Rendering turns a recipe into the fixed, ordered directive
// sequence the image builder consumes:
//
//	FROM <base image>
//	ENV <settings key>="<settings module>"
//	ENV <extra key>="<value>"       (zero or more, in declared order)
//	RUN <collect command>
//	ENV <entry point key>="<module>:<callable>"
//
// Recipe files are YAML (gopkg.in/yaml.v3) or JSON with comments
// (github.com/tidwall/jsonc). Validation uses
// github.com/go-playground/validator/v10 struct tags plus shell syntax
// checks via mvdan.cc/sh/v3/syntax.
package recipe
