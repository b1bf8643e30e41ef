package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FaceImagesBucket holds the student face pictures.
const FaceImagesBucket = "student-faces"

const defaultCacheControl = 3600

// UploadOptions tune Upload. A zero CacheControl means one hour.
type UploadOptions struct {
	ContentType  string
	CacheControl int
	Upsert       bool
}

// IsFullURL reports whether p is already an absolute http(s) URL.
func IsFullURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// PublicURL returns the public URL of an object. Full URLs are returned
// unchanged; an empty bucket or path gives "".
func (c *Client) PublicURL(bucket, objectPath string) string {
	if bucket == "" || objectPath == "" {
		return ""
	}
	if IsFullURL(objectPath) {
		return objectPath
	}
	return c.storage + "/object/public/" + bucket + "/" + escapeObjectPath(objectPath)
}

// Upload stores body at objectPath in bucket and returns the object key.
func (c *Client) Upload(ctx context.Context, bucket, objectPath string, body io.Reader, opts UploadOptions) (string, error) {
	cache := opts.CacheControl
	if cache <= 0 {
		cache = defaultCacheControl
	}
	h := http.Header{}
	h.Set("cache-control", "max-age="+strconv.Itoa(cache))
	h.Set("x-upsert", strconv.FormatBool(opts.Upsert))
	if opts.ContentType != "" {
		h.Set("Content-Type", opts.ContentType)
	}

	var out struct {
		Key string `json:"Key"`
	}
	target := c.storage + "/object/" + bucket + "/" + escapeObjectPath(objectPath)
	if _, err := c.do(ctx, request{method: http.MethodPost, url: target, raw: body, header: h}, &out); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, objectPath, err)
	}
	if out.Key == "" {
		out.Key = bucket + "/" + objectPath
	}
	return out.Key, nil
}

// Remove deletes objects from bucket. No paths is a no-op.
func (c *Client) Remove(ctx context.Context, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	body := map[string][]string{"prefixes": paths}
	if _, err := c.do(ctx, request{method: http.MethodDelete, url: c.storage + "/object/" + bucket, body: body}, nil); err != nil {
		return fmt.Errorf("remove from %s: %w", bucket, err)
	}
	return nil
}

// NewFaceImagePath returns a fresh object path for a face image with the
// extension of filename.
func NewFaceImagePath(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return "faces/" + uuid.NewString() + ext
}

func escapeObjectPath(p string) string {
	segs := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
