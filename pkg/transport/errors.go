package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDeadlineExceeded = errors.New("peer call deadline exceeded")
	ErrUnknownPeer      = errors.New("no route to peer")
	ErrClosed           = errors.New("transport closed")
)

// StatusError is a peer answer other than 200
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("peer answered %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
	}
	return fmt.Sprintf("peer answered %d %s", e.Code, http.StatusText(e.Code))
}

// StatusCode extracts the peer status from err, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
