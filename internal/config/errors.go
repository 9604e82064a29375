package config

import "errors"

var (
	ErrUnknownBackend      = errors.New("config: unknown backend kind")
	ErrInvalidBackendConfig = errors.New("config: invalid backend configuration")
)
