package cache

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/perpetua/internal/model"
)

// KeyKind is the axis a cache entry is keyed on.
type KeyKind string

const (
	KindPrincipal KeyKind = "principal"
	KindShelf     KeyKind = "shelf"
	KindPage      KeyKind = "page"
)

// Key addresses one cache entry: all of a principal's shelves, one shelf,
// or one page of a principal's shelves.
type Key struct {
	Kind      KeyKind
	Principal model.Principal
	Shelf     model.ShelfID
	Cursor    string
	PageSize  int
}

func PrincipalKey(p model.Principal) Key {
	return Key{Kind: KindPrincipal, Principal: p}
}

func ShelfKey(id model.ShelfID) Key {
	return Key{Kind: KindShelf, Shelf: id}
}

func PageKey(p model.Principal, cursor string, size int) Key {
	return Key{Kind: KindPage, Principal: p, Cursor: cursor, PageSize: size}
}

// String is the canonical form used as the backend key. Components are
// path-escaped so a principal or cursor containing '/' round-trips.
func (k Key) String() string {
	switch k.Kind {
	case KindPrincipal:
		return "principal/" + url.PathEscape(string(k.Principal))
	case KindShelf:
		return "shelf/" + url.PathEscape(string(k.Shelf))
	case KindPage:
		return fmt.Sprintf("page/%s/%s/%d", url.PathEscape(string(k.Principal)), url.PathEscape(k.Cursor), k.PageSize)
	}
	return "invalid/" + string(k.Kind)
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	unescape := func(i int) (string, error) {
		v, err := url.PathUnescape(parts[i])
		if err != nil {
			return "", fmt.Errorf("parse cache key %q: %w", s, err)
		}
		return v, nil
	}
	switch {
	case len(parts) == 2 && parts[0] == string(KindPrincipal):
		p, err := unescape(1)
		return PrincipalKey(model.Principal(p)), err
	case len(parts) == 2 && parts[0] == string(KindShelf):
		id, err := unescape(1)
		return ShelfKey(model.ShelfID(id)), err
	case len(parts) == 4 && parts[0] == string(KindPage):
		p, err := unescape(1)
		if err != nil {
			return Key{}, err
		}
		cursor, err := unescape(2)
		if err != nil {
			return Key{}, err
		}
		size, err := strconv.Atoi(parts[3])
		if err != nil {
			return Key{}, fmt.Errorf("parse cache key %q: page size: %w", s, err)
		}
		return PageKey(model.Principal(p), cursor, size), nil
	}
	return Key{}, fmt.Errorf("parse cache key %q: unrecognized form", s)
}
