package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const s3Scheme = "s3://"

var ErrStoreNotConfigured = errors.New("s3 input requires an object store endpoint")

// Location is a parsed input URI. Local paths leave Bucket empty.
type Location struct {
	Bucket string
	Key    string
	Path   string
}

func (l Location) Remote() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.Remote() {
		return s3Scheme + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// ParseLocation accepts s3://bucket/key or a local filesystem path.
func ParseLocation(uri string) (Location, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Location{}, errors.New("input path is required")
	}
	if !strings.HasPrefix(uri, s3Scheme) {
		return Location{Path: uri}, nil
	}
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("input path %q has no bucket", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Opener reads input files from local disk or, for s3:// URIs, from the store.
type Opener struct {
	store Store
}

// NewOpener accepts a nil store; s3:// URIs then fail with ErrStoreNotConfigured.
func NewOpener(store Store) *Opener {
	return &Opener{store: store}
}

func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	if !loc.Remote() {
		return os.Open(loc.Path)
	}
	if o.store == nil {
		return nil, ErrStoreNotConfigured
	}
	rc, _, err := o.store.Get(ctx, loc.Bucket, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", loc, err)
	}
	return rc, nil
}

// Expand turns a directory or a prefix ending in "/" into its files, sorted.
// Anything else is returned as the single input.
func (o *Opener) Expand(ctx context.Context, uri string) ([]string, error) {
	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, err
	}
	if loc.Remote() {
		if loc.Key != "" && !strings.HasSuffix(loc.Key, "/") {
			return []string{loc.String()}, nil
		}
		if o.store == nil {
			return nil, ErrStoreNotConfigured
		}
		objects, err := o.store.List(ctx, loc.Bucket, loc.Key)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(objects))
		for _, obj := range objects {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			out = append(out, Location{Bucket: loc.Bucket, Key: obj.Key}.String())
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no input files under %s", loc)
		}
		return out, nil
	}

	info, err := os.Stat(loc.Path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{loc.Path}, nil
	}
	entries, err := os.ReadDir(loc.Path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(loc.Path, entry.Name()))
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no input files under %s", loc.Path)
	}
	return out, nil
}
