// Package objectstore stores binary objects such as avatar images and returns
// an address they can be fetched from.
package objectstore

import (
	"context"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mindease/mindease/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when an object does not exist.
	ErrNotFound = errors.NewC("object not found", codes.NotFound)

	// Returned when a file's content type is not accepted.
	ErrUnsupportedType = errors.NewC("unsupported file type", codes.InvalidArgument)

	// Returned for object paths that try to escape their prefix.
	ErrInvalidPath = errors.NewC("invalid object path", codes.InvalidArgument)
)

// DefaultImageTypes are the avatar formats accepted unless configured
// otherwise.
var DefaultImageTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Backend stores objects.
type Backend interface {
	// Upload writes data at path and returns an address for it.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Get returns the object and its content type.
	Get(ctx context.Context, path string) ([]byte, string, error)

	// Delete removes the object, or returns ErrNotFound.
	Delete(ctx context.Context, path string) error
}

// File is a file chosen for upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ValidateType checks the file against the allowed content types. The declared
// type must be allowed and, when there is content, the sniffed type must be as
// well, so a renamed executable is not accepted as an image.
func ValidateType(f File, allowed []string) error {
	declared := normalizeType(f.ContentType)
	if declared == "" && len(f.Data) > 0 {
		declared = normalizeType(http.DetectContentType(f.Data))
	}
	if !slices.Contains(allowed, declared) {
		return errors.Mark(ErrUnsupportedType, 0).Append(f.ContentType)
	}
	if len(f.Data) > 0 {
		if sniffed := normalizeType(http.DetectContentType(f.Data)); !slices.Contains(allowed, sniffed) {
			return errors.Mark(ErrUnsupportedType, 0).Append("content is " + sniffed)
		}
	}
	return nil
}

// AvatarPath returns a fresh, unique object path for a user's avatar.
func AvatarPath(uid, fileName string) string {
	return "avatars/" + uid + "/" + uuid.NewString() + "-" + sanitizeName(fileName)
}

// CleanPath validates an object path, rejecting absolute paths and parent
// references.
func CleanPath(p string) (string, error) {
	c := path.Clean("/" + p)[1:]
	if c == "" || c != strings.TrimPrefix(p, "./") || slices.Contains(strings.Split(p, "/"), "..") {
		return "", errors.Mark(ErrInvalidPath, 0).Append(p)
	}
	return c, nil
}

func normalizeType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == '?' || r == '#' || r == '%':
			return -1
		}
		return r
	}, name)
}
