// Package config loads wsgi-image settings with viper.
//
// Precedence, lowest first: built-in defaults, the optional config file,
// WSGI_IMAGE_* environment variables, and command-line flags. The recipe
// itself is not configuration; only where to find it is.
package config
