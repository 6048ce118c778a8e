package storage

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const metaSuffix = ".meta"

// LocalStorage implements Storage on the local filesystem. Each bucket is a
// directory under basePath; object headers are kept in a sidecar .meta file.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem store
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Name returns the provider name
func (ls *LocalStorage) Name() string {
	return "local"
}

// Health checks that the base path is writable
func (ls *LocalStorage) Health(ctx context.Context) error {
	if _, err := os.Stat(ls.basePath); err != nil {
		return fmt.Errorf("storage directory not accessible: %w", err)
	}

	testFile := filepath.Join(ls.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	return nil
}

// EnsureBucket creates the bucket directory
func (ls *LocalStorage) EnsureBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(ls.basePath, bucket), 0755); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}
	return nil
}

func (ls *LocalStorage) getPath(bucket, key string) string {
	return filepath.Join(ls.basePath, bucket, filepath.FromSlash(key))
}

// Upload writes an object and its headers
func (ls *LocalStorage) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	filePath := ls.getPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(file, hash), data)
	if err != nil {
		_ = os.Remove(filePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	if err := writeMeta(filePath+metaSuffix, opts); err != nil {
		return nil, err
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", written).
		Msg("File uploaded to local storage")

	return &Object{
		Key:             key,
		Bucket:          bucket,
		Size:            info.Size(),
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		CacheControl:    opts.CacheControl,
		LastModified:    info.ModTime(),
		ETag:            hex.EncodeToString(hash.Sum(nil)),
		Metadata:        opts.Metadata,
	}, nil
}

// Exists checks if an object exists
func (ls *LocalStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := os.Stat(ls.getPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetObject returns object metadata
func (ls *LocalStorage) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	filePath := ls.getPath(bucket, key)

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	obj := &Object{
		Key:          key,
		Bucket:       bucket,
		Size:         info.Size(),
		ContentType:  "application/octet-stream",
		LastModified: info.ModTime(),
		Metadata:     make(map[string]string),
	}
	readMeta(filePath+metaSuffix, obj)

	return obj, nil
}

// Delete removes an object and its headers
func (ls *LocalStorage) Delete(ctx context.Context, bucket, key string) error {
	filePath := ls.getPath(bucket, key)

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	_ = os.Remove(filePath + metaSuffix)

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Msg("File deleted from local storage")

	return nil
}

// List lists objects in a bucket sorted by key
func (ls *LocalStorage) List(ctx context.Context, bucket string, opts *ListOptions) (*ListResult, error) {
	opts = normalizeListOptions(opts)

	bucketPath := filepath.Join(ls.basePath, bucket)
	if _, err := os.Stat(bucketPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bucket not found")
		}
		return nil, err
	}

	var objects []Object
	err := filepath.WalkDir(bucketPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return nil
		}

		relPath, err := filepath.Rel(bucketPath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:          key,
			Bucket:       bucket,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	truncated := false
	if len(objects) > opts.MaxKeys {
		objects = objects[:opts.MaxKeys]
		truncated = true
	}

	return &ListResult{
		Objects:     objects,
		IsTruncated: truncated,
	}, nil
}

func writeMeta(path string, opts *UploadOptions) error {
	var b strings.Builder
	for k, v := range opts.Metadata {
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	if opts.ContentType != "" {
		fmt.Fprintf(&b, "content-type=%s\n", opts.ContentType)
	}
	if opts.ContentEncoding != "" {
		fmt.Fprintf(&b, "content-encoding=%s\n", opts.ContentEncoding)
	}
	if opts.CacheControl != "" {
		fmt.Fprintf(&b, "cache-control=%s\n", opts.CacheControl)
	}
	if b.Len() == 0 {
		_ = os.Remove(path)
		return nil
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func readMeta(path string, obj *Object) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "content-type":
			obj.ContentType = parts[1]
		case "content-encoding":
			obj.ContentEncoding = parts[1]
		case "cache-control":
			obj.CacheControl = parts[1]
		default:
			obj.Metadata[parts[0]] = parts[1]
		}
	}
}
