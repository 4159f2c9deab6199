// Package firebasestorage implements objectstore.Backend on a Firebase Cloud
// Storage bucket. Uploaded objects get a download token so the returned
// address works the same way as one produced by the Firebase client SDKs.
//
//	app, _ := firebase.NewApp(ctx, &firebase.Config{StorageBucket: "mindease.appspot.com"})
//	backend, _ := firebasestorage.FromApp(ctx, app, "")
package firebasestorage

import (
	"context"
	"io"
	"net/url"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/objectstore"
)

const tokenMetadataKey = "firebaseStorageDownloadTokens"

// Backend stores objects in a bucket.
type Backend struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

var _ objectstore.Backend = (*Backend)(nil)

// New wraps a bucket handle. bucketName is used to build download addresses.
func New(bucket *gcs.BucketHandle, bucketName string) *Backend {
	return &Backend{bucket: bucket, bucketName: bucketName}
}

// FromApp opens bucketName, or the app's default bucket when empty.
func FromApp(ctx context.Context, app *firebase.App, bucketName string) (*Backend, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, errors.WrapPrefix(err, "firebasestorage: client", 0)
	}
	var bucket *gcs.BucketHandle
	if bucketName == "" {
		bucket, err = client.DefaultBucket()
	} else {
		bucket, err = client.Bucket(bucketName)
	}
	if err != nil {
		return nil, errors.WrapPrefix(err, "firebasestorage: bucket", 0)
	}
	attrs, err := bucket.Attrs(ctx)
	if err != nil {
		return nil, errors.WrapPrefix(err, "firebasestorage: bucket attrs", 0)
	}
	return New(bucket, attrs.Name), nil
}

func (b *Backend) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	path, err := objectstore.CleanPath(path)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()

	w := b.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{tokenMetadataKey: token}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", errors.WrapPrefix(err, "firebasestorage: write", 0)
	}
	if err := w.Close(); err != nil {
		return "", errors.WrapPrefix(err, "firebasestorage: write", 0)
	}
	return DownloadURL(b.bucketName, path, token), nil
}

func (b *Backend) Get(ctx context.Context, path string) ([]byte, string, error) {
	r, err := b.bucket.Object(path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, "", errors.Mark(objectstore.ErrNotFound, 0).Append(path)
	}
	if err != nil {
		return nil, "", errors.WrapPrefix(err, "firebasestorage: read", 0)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.WrapPrefix(err, "firebasestorage: read", 0)
	}
	return data, r.Attrs.ContentType, nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	err := b.bucket.Object(path).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return errors.Mark(objectstore.ErrNotFound, 0).Append(path)
	}
	return errors.MaybeWrap(err, 0)
}

// DownloadURL builds the token authenticated download address for an object.
func DownloadURL(bucket, path, token string) string {
	return "https://firebasestorage.googleapis.com/v0/b/" + url.PathEscape(bucket) +
		"/o/" + url.PathEscape(path) + "?alt=media&token=" + url.QueryEscape(token)
}
