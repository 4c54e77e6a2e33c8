package locator

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrNotArchive = errors.New("root path does not point at an archive")

	driveLetterRe = regexp.MustCompile(`^/[A-Za-z]:`)
)

// ArchivePathFromRoot converts a module root path into the native path of the
// archive that contains it. Roots may be nested archive URIs such as
// "jar:file:/game/mods/foo.jar!/", plain "file:" URIs or bare paths.
func ArchivePathFromRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", ErrNotArchive
	}
	lower := strings.ToLower(root)
	switch {
	case strings.HasPrefix(lower, "jar:"), strings.HasPrefix(lower, "zip:"):
		inner := root[len("jar:"):]
		sep := strings.Index(inner, "!")
		if sep < 0 {
			return "", fmt.Errorf("missing '!' separator in %q", root)
		}
		return fileURIToPath(inner[:sep])
	case strings.HasPrefix(lower, "file:"):
		p, err := fileURIToPath(root)
		if err != nil {
			return "", err
		}
		if !isArchiveName(p) {
			return "", ErrNotArchive
		}
		return p, nil
	case strings.Contains(root, "://"):
		return "", fmt.Errorf("unsupported scheme in %q", root)
	}
	if !isArchiveName(root) {
		return "", ErrNotArchive
	}
	return filepath.Clean(root), nil
}

func isArchiveName(p string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimRight(p, `/\`)), ".jar")
}

func fileURIToPath(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid file uri %q: %w", s, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", fmt.Errorf("expected file uri, got %q", s)
	}
	p := u.Path
	if u.Opaque != "" {
		// file:C:/x.jar or file:relative/x.jar
		p, err = url.PathUnescape(u.Opaque)
		if err != nil {
			return "", fmt.Errorf("invalid file uri %q: %w", s, err)
		}
	}
	if p == "" {
		return "", fmt.Errorf("empty path in %q", s)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
		p = "//" + u.Host + p
	}
	if driveLetterRe.MatchString(p) {
		p = p[1:]
	}
	p = strings.TrimRight(p, "/")
	return filepath.FromSlash(p), nil
}
