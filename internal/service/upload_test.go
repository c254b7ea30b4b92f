package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"photo.png":             "photo.png",
		"my photo.png":          "my_photo.png",
		"../../etc/passwd.png":  "passwd.png",
		`C:\Users\x\shot.jpg`:   "shot.jpg",
		"été 2024.jpg":          "ete_2024.jpg",
		"é.png":                 "e.png",
		"ﬁchier.pdf":            "fichier.pdf",
		"日本.png":                "png",
		"..":                    "",
		"...":                   "",
		"  .hidden.gif":         "hidden.gif",
		"rapport<final>.pdf":    "rapportfinal.pdf",
		"tab\tand\nnewline.pdf": "tab_and_newline.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestFileStore_IsAllowedExtension(t *testing.T) {
	fs := NewFileStore(t.TempDir(), 1024, []string{"png", ".JPG", "pdf"})

	assert.True(t, fs.IsAllowedExtension("a.png"))
	assert.True(t, fs.IsAllowedExtension("a.PNG"))
	assert.True(t, fs.IsAllowedExtension("a.jpg"))
	assert.True(t, fs.IsAllowedExtension("archive.tar.pdf"))
	assert.False(t, fs.IsAllowedExtension("png"))
	assert.False(t, fs.IsAllowedExtension("a.exe"))
	assert.False(t, fs.IsAllowedExtension("a."))
}

func TestFileStore_Check(t *testing.T) {
	fs := NewFileStore(t.TempDir(), 10, []string{"png"})

	safe, err := fs.Check("a b.png", 10)
	require.NoError(t, err)
	assert.Equal(t, "a_b.png", safe)

	safe, err = fs.Check("é.png", 10)
	require.NoError(t, err)
	assert.Equal(t, "e.png", safe)

	_, err = fs.Check("a.png", 11)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	_, err = fs.Check("a.png", 0)
	assert.ErrorIs(t, err, ErrInvalidUpload)
	_, err = fs.Check("a.gif", 1)
	assert.ErrorIs(t, err, ErrInvalidUpload)
}

func TestFileStore_SaveUnknownSizeEnforcesCap(t *testing.T) {
	fs := NewFileStore(t.TempDir(), 4, []string{"png"})

	_, err := fs.Save("a.png", strings.NewReader("12345"), -1)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	rel, err := fs.Save("a.png", strings.NewReader("1234"), -1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, UploadURLPrefix))

	require.NoError(t, fs.Remove(rel))
	assert.Error(t, fs.Remove(UploadURLPrefix+"../escape.png"))
}

func TestFileStore_SaveNamesAreUnique(t *testing.T) {
	fs := NewFileStore(t.TempDir(), 16, []string{"png"})
	a, err := fs.Save("same.png", strings.NewReader("one"), 3)
	require.NoError(t, err)
	b, err := fs.Save("same.png", strings.NewReader("two"), 3)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
