// Package vfs implements the path grammar, filesystem registry, file
// descriptor table, and mode handling shared by every concrete filesystem
// (currently only FAT16, in the fat16 subpackage).
package vfs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/skyos/kernel/internal/kerrors"
)

// Path is a parsed <digit>:/<name>(/<name>)* path: a disk id and a forward
// sequence of name components.
type Path struct {
	Disk  int
	Parts []string
}

// ParsePath parses the grammar `<digit> ':' '/' <name> ('/' <name>)*`.
// Malformed paths (missing disk, missing separator, empty components)
// return ErrInvalidArg.
func ParsePath(s string) (Path, error) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return Path{}, fmt.Errorf("%w: path %q: missing disk prefix", kerrors.ErrInvalidArg, s)
	}

	disk, err := strconv.Atoi(s[:colon])
	if err != nil {
		return Path{}, fmt.Errorf("%w: path %q: bad disk id: %w", kerrors.ErrInvalidArg, s, err)
	}

	rest := s[colon+1:]
	if !strings.HasPrefix(rest, "/") {
		return Path{}, fmt.Errorf("%w: path %q: missing root separator", kerrors.ErrInvalidArg, s)
	}

	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return Path{}, fmt.Errorf("%w: path %q: empty path", kerrors.ErrInvalidArg, s)
	}

	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return Path{}, fmt.Errorf("%w: path %q: empty component", kerrors.ErrInvalidArg, s)
		}
	}

	return Path{Disk: disk, Parts: parts}, nil
}

// String renders the path in its canonical D:/a/b form, the inverse of
// ParsePath: ParsePath(p.String()) == p for any parsed Path.
func (p Path) String() string {
	return fmt.Sprintf("%d:/%s", p.Disk, strings.Join(p.Parts, "/"))
}
