package ftpmock

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/mockstage/mockstage/pkg/mock"
)

// DefaultRootDir is used when FTP_ROOT_DIR is not set.
const DefaultRootDir = "ftp"

// Storage is the directory tree definitions' files live in.
type Storage struct {
	root string
	fs   afero.Fs
}

// NewStorage returns storage rooted at dir on the OS filesystem.
func NewStorage(dir string) *Storage {
	return NewStorageFs(afero.NewOsFs(), dir)
}

// NewStorageFs returns storage rooted at dir on fs.
func NewStorageFs(fs afero.Fs, dir string) *Storage {
	if dir == "" {
		dir = DefaultRootDir
	}
	return &Storage{root: filepath.Clean(dir), fs: fs}
}

// Root returns the root directory.
func (s *Storage) Root() string {
	return s.root
}

// Home returns a filesystem confined to the definition's directory,
// creating the directory if needed.
func (s *Storage) Home(defName string) (afero.Fs, error) {
	if err := validateName("name", defName); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, defName)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create home %s: %w", dir, err)
	}
	return afero.NewBasePathFs(s.fs, dir), nil
}

// Store writes r to fileName in the definition's directory, replacing any
// existing file.
func (s *Storage) Store(defName, fileName string, r io.Reader) error {
	if err := validateName("fileName", fileName); err != nil {
		return err
	}
	home, err := s.Home(defName)
	if err != nil {
		return err
	}

	tmp := fileName + ".part"
	if err := afero.WriteReader(home, tmp, r); err != nil {
		_ = home.Remove(tmp)
		return fmt.Errorf("write %s: %w", fileName, err)
	}
	if err := home.Rename(tmp, fileName); err != nil {
		_ = home.Remove(tmp)
		return fmt.Errorf("write %s: %w", fileName, err)
	}
	return nil
}

// Files lists the regular files in the definition's directory.
func (s *Storage) Files(defName string) ([]string, error) {
	if err := validateName("name", defName); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, filepath.Join(s.root, defName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

// validateName refuses anything that is not a single path element.
func validateName(field, name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return &mock.ValidationError{Field: field, Message: fmt.Sprintf("invalid name %q", name)}
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return &mock.ValidationError{Field: field, Message: fmt.Sprintf("%q must not contain a path", name)}
	}
	return nil
}
