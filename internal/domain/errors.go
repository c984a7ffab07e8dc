package domain

import "errors"

// ErrInvalidInput is returned for malformed requests.
var ErrInvalidInput = errors.New("invalid input")
