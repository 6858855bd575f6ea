package filestore

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// Local serves files from <root>/<userID>/. File IDs are slash-separated
// paths relative to the user's directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("files root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve files root")
	}
	return &Local{root: abs}, nil
}

func (s *Local) Root() string { return s.root }

// sanitizeKey rejects keys that could escape the user directory.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(filepath.ToSlash(key))
	if key == "" || key == "." || key == "/" {
		return ".", nil
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.Errorf("invalid absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", errors.Errorf("invalid key %q contains '..'", key)
		}
	}
	return path.Clean(key), nil
}

func (s *Local) userDir(userID string) (string, error) {
	id, err := sanitizeKey(userID)
	if err != nil || id == "." || strings.Contains(id, "/") {
		return "", errors.Errorf("invalid user id %q", userID)
	}
	return filepath.Join(s.root, id), nil
}

func (s *Local) resolve(userID, key string) (string, string, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return "", "", err
	}
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, filepath.FromSlash(k)), k, nil
}

func (s *Local) Get(_ context.Context, userID, fileID string) (File, error) {
	p, key, err := s.resolve(userID, fileID)
	if err != nil {
		return File{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, errors.Wrapf(ErrNotFound, "%s", fileID)
		}
		return File{}, errors.Wrapf(err, "stat %s", fileID)
	}
	return s.describe(p, key, info), nil
}

func (s *Local) describe(p, key string, info fs.FileInfo) File {
	f := File{
		ID:       key,
		Name:     info.Name(),
		IsFolder: info.IsDir(),
		Path:     p,
		Size:     info.Size(),
	}
	if f.IsFolder {
		return f
	}
	f.MimeType = detectMime(p)
	if isWorkbook(p, f.MimeType) {
		// Workbooks are served as the CSV of their first sheet.
		f.MimeType = MimeCSV
		f.Name = strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".csv"
	}
	return f
}

func detectMime(p string) string {
	if strings.EqualFold(filepath.Ext(p), ".csv") {
		return MimeCSV
	}
	m, err := mimetype.DetectFile(p)
	if err != nil {
		return "application/octet-stream"
	}
	mt := m.String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

func (s *Local) ReadBytes(ctx context.Context, userID, fileID string) ([]byte, error) {
	f, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if f.IsFolder {
		return nil, errors.Errorf("%s is a folder", fileID)
	}
	if isWorkbook(f.Path, "") {
		return workbookCSV(f.Path)
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fileID)
	}
	return b, nil
}

func (s *Local) NameAndExtension(ctx context.Context, userID, fileID string) (string, string, error) {
	f, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return "", "", err
	}
	ext := filepath.Ext(f.Name)
	return strings.TrimSuffix(f.Name, ext), ext, nil
}

func (s *Local) FolderOf(ctx context.Context, userID, fileID string) (string, error) {
	f, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return "", err
	}
	if f.IsFolder {
		return f.ID, nil
	}
	return path.Dir(f.ID), nil
}

func (s *Local) List(_ context.Context, userID, folderPath string) ([]File, error) {
	base, key, err := s.resolve(userID, folderPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s", folderPath)
		}
		return nil, errors.Wrapf(err, "stat %s", folderPath)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a folder", folderPath)
	}

	var out []File
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == base {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, s.describe(p, path.Join(key, filepath.ToSlash(rel)), info))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", folderPath)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
