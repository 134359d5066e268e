package booking

import "errors"

var ErrInvalidUnit = errors.New("invalid unit")
