// Package resolve maps requested paths to real store paths by following
// link properties.
package resolve

import (
	"errors"
	"strings"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/core"
)

// Store is what resolution needs from the store.
type Store interface {
	Exists(path string) (bool, error)
	Properties(path string) (core.Props, error)
}

// Resolve returns the real path for p.
//
// A path that exists is returned unchanged. Otherwise its parent is
// resolved first; if the parent has a child of that name it wins, else the
// parent's link property "<name> ->" is followed. Link chains that revisit
// a path fail with a *core.LinkLoopError.
func Resolve(s Store, p string) (string, error) {
	return resolve(s, core.Clean(p), nil)
}

func resolve(s Store, p string, seen []string) (string, error) {
	for _, prev := range seen {
		if prev == p {
			return "", &core.LinkLoopError{Chain: append(append([]string{}, seen...), p)}
		}
	}

	ok, err := s.Exists(p)
	if err != nil {
		return "", err
	}
	if ok {
		return p, nil
	}
	if p == "/" {
		return "", &core.NotFoundError{Path: p}
	}

	base, name := core.Split(p)
	realBase, err := resolve(s, base, seen)
	if err != nil {
		return "", err
	}

	candidate := core.Join(realBase, name)
	if realBase != base {
		ok, err := s.Exists(candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	props, err := s.Properties(realBase)
	if err != nil {
		if errors.Is(err, core.ErrNoNode) {
			return "", &core.NotFoundError{Path: p}
		}
		return "", err
	}

	target, ok := codec.LinkTarget(props, name)
	if !ok || !strings.HasPrefix(target, "/") {
		return "", &core.NotFoundError{Path: p}
	}

	return resolve(s, core.Clean(target), append(seen, p))
}
