// Package service defines the mountable HTTP service contract and its registry.
package service

import (
	"log/slog"
	"net/http"
)

// Service is an HTTP service mounted by the server under Prefix.
type Service interface {
	Handler() http.Handler
	Prefix() string
	Close() error

	// Unprotected lists paths, relative to Prefix, that skip the session gate.
	Unprotected() []string
}

// NewService builds a service from its [services.<name>] config map.
type NewService func(conf map[string]any, log *slog.Logger) (Service, error)
