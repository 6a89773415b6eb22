package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrDuplicate = errors.New("already exists")
var ErrUnsupported = errors.New("unsupported operation")
