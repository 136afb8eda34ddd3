package util

import (
	"errors"
	"path"
	"strings"
	"unicode"
)

// ErrInvalidKey is returned for artifact keys that cannot be mapped to an owner.
var ErrInvalidKey = errors.New("invalid artifact key")

// SanitizeFileName removes path separators and control characters and
// rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// ArtifactKey builds the object key "<ownerId>/<filename>" uploads are stored under.
func ArtifactKey(ownerID, fileName string) (string, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" || strings.ContainsAny(owner, "/\\") {
		return "", ErrInvalidKey
	}
	name, err := SanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	return owner + "/" + name, nil
}

// SplitArtifactKey recovers owner and file name from a key built by
// ArtifactKey, ignoring any leading storage prefix segments in prefix.
func SplitArtifactKey(prefix, key string) (ownerID, fileName string, err error) {
	k := strings.TrimLeft(key, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		if !strings.HasPrefix(k, p+"/") {
			return "", "", ErrInvalidKey
		}
		k = strings.TrimPrefix(k, p+"/")
	}
	owner, rest, ok := strings.Cut(k, "/")
	if !ok || owner == "" || rest == "" || strings.HasSuffix(rest, "/") {
		return "", "", ErrInvalidKey
	}
	return owner, path.Base(rest), nil
}
