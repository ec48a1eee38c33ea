package scoring

import "errors"

var (
	ErrModelLoad      = errors.New("model artifact load failed")
	ErrDecode         = errors.New("request payload decode failed")
	ErrSchemaMismatch = errors.New("feature schema mismatch")
	ErrTransform      = errors.New("pipeline transform failed")
)
