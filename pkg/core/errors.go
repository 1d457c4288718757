package core

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrConnectFailed           = errors.New("could not connect to the store")
	ErrSessionClosed           = errors.New("session is closed")
	ErrSessionExpired          = errors.New("session expired")
	ErrConnectionLoss          = errors.New("connection lost")
	ErrNoNode                  = errors.New("node does not exist")
	ErrNodeExists              = errors.New("node already exists")
	ErrNotEmpty                = errors.New("node has children")
	ErrBadVersion              = errors.New("version conflict")
	ErrBadArguments            = errors.New("invalid arguments")
	ErrNoChildrenForEphemerals = errors.New("ephemeral nodes may not have children")
	ErrNotFound                = errors.New("path not found")
	ErrLinkLoop                = errors.New("link loop")
)

// NotFoundError is returned when path resolution reaches a dead end.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.Path)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || target == ErrNoNode
}

// LinkLoopError carries the chain of paths visited before the cycle closed.
type LinkLoopError struct {
	Chain []string
}

func (e *LinkLoopError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLinkLoop, strings.Join(e.Chain, " -> "))
}

func (e *LinkLoopError) Is(target error) bool {
	return target == ErrLinkLoop
}
