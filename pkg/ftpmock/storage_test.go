package ftpmock

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockstage/mockstage/pkg/mock"
)

func TestStorage_Store(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := NewStorageFs(fs, "/srv/ftp")

	require.NoError(t, s.Store("invoices", "jan.csv", strings.NewReader("a,b\n")))
	require.NoError(t, s.Store("invoices", "jan.csv", strings.NewReader("c,d\n")))

	data, err := afero.ReadFile(fs, "/srv/ftp/invoices/jan.csv")
	require.NoError(t, err)
	assert.Equal(t, "c,d\n", string(data))

	files, err := s.Files("invoices")
	require.NoError(t, err)
	assert.Equal(t, []string{"jan.csv"}, files)

	files, err = s.Files("empty")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStorage_RejectsPaths(t *testing.T) {
	t.Parallel()

	s := NewStorageFs(afero.NewMemMapFs(), "/srv/ftp")

	tests := []struct {
		name     string
		defName  string
		fileName string
	}{
		{"parent file", "invoices", "../escape.txt"},
		{"nested file", "invoices", "a/b.txt"},
		{"windows separator", "invoices", `a\b.txt`},
		{"dot dot file", "invoices", ".."},
		{"empty file", "invoices", ""},
		{"parent definition", "..", "x.txt"},
		{"nested definition", "a/b", "x.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Store(tt.defName, tt.fileName, strings.NewReader("x"))
			var verr *mock.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestStorage_HomeIsConfined(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := NewStorageFs(fs, "/srv/ftp")
	require.NoError(t, afero.WriteFile(fs, "/srv/ftp/secret.txt", []byte("secret"), 0o644))

	home, err := s.Home("invoices")
	require.NoError(t, err)

	_, err = home.Open("../secret.txt")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(home, "/upload.txt", []byte("hi"), 0o644))
	ok, err := afero.Exists(fs, "/srv/ftp/invoices/upload.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewStorage_DefaultRoot(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultRootDir, NewStorageFs(afero.NewMemMapFs(), "").Root())
}
