package fanout

import "errors"

var (
	errAccessDenied           = errors.New("auth context does not permit this project")
	errConnectionLimitReached = errors.New("connection limit reached")
)
