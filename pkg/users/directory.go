// Package users resolves the principal a workflow acts for.
package users

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnknownPrincipal = errors.New("unknown principal")

type Principal struct {
	ID string
}

type Directory interface {
	Resolve(ctx context.Context, ref string) (Principal, error)
}

// LocalDirectory knows a principal when it owns a folder under the files
// root.
type LocalDirectory struct {
	root string
}

func NewLocalDirectory(root string) *LocalDirectory {
	return &LocalDirectory{root: root}
}

func (d *LocalDirectory) Resolve(_ context.Context, ref string) (Principal, error) {
	id := strings.TrimSpace(ref)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return Principal{}, errors.Wrapf(ErrUnknownPrincipal, "invalid reference %q", ref)
	}
	info, err := os.Stat(filepath.Join(d.root, id))
	if err != nil || !info.IsDir() {
		return Principal{}, errors.Wrapf(ErrUnknownPrincipal, "%s", id)
	}
	return Principal{ID: id}, nil
}
