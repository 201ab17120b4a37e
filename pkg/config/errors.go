package config

import "errors"

var ErrMissingCert = errors.New("missing cert")
var ErrMissingKey = errors.New("missing key")
var ErrMissingRelay = errors.New("relay url is empty and discovery is disabled")
var ErrUnknownDriver = errors.New("unknown persistence driver")
var ErrMissingDSN = errors.New("postgres driver requires dsn")
var ErrUnknownMode = errors.New("unknown arbiter mode")
var ErrInvalidMaxEditors = errors.New("max editors must be positive")
var ErrInvalidHeartbeat = errors.New("heartbeat interval must be shorter than presence timeout")
var ErrInvalidLevel = errors.New("unknown log level")
var ErrConfigIsNil = errors.New("config is nil")
