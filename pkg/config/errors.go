package config

import "errors"

// ErrConfiguration marks missing or invalid startup configuration. It is
// always fatal and is raised before any question is processed.
var ErrConfiguration = errors.New("configuration error")
