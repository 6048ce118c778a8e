// Package publish uploads a finished build to a release store.
package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fluxbase-eu/fluxpack/internal/compress"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

// ErrAlreadyPublished is returned when the version's manifest already exists
// in the store and overwriting was not requested
var ErrAlreadyPublished = errors.New("version already published")

// Options configures a Publisher
type Options struct {
	Bucket       string
	Prefix       string
	CacheControl string

	// RateLimit is uploads per second; 0 means unlimited
	RateLimit float64

	// Overwrite replaces an existing release of the same version
	Overwrite bool

	// DryRun lists the uploads without performing them
	DryRun bool
}

// Upload describes one file of a release
type Upload struct {
	File            string `json:"file" yaml:"file"`
	Key             string `json:"key" yaml:"key"`
	Size            int64  `json:"size" yaml:"size"`
	ContentType     string `json:"content_type" yaml:"content_type"`
	ContentEncoding string `json:"content_encoding,omitempty" yaml:"content_encoding,omitempty"`
}

// Result is the outcome of a publish
type Result struct {
	Provider string   `json:"provider" yaml:"provider"`
	Bucket   string   `json:"bucket" yaml:"bucket"`
	Prefix   string   `json:"prefix" yaml:"prefix"`
	Uploads  []Upload `json:"uploads" yaml:"uploads"`
	Bytes    int64    `json:"bytes" yaml:"bytes"`
	DryRun   bool     `json:"dry_run" yaml:"dry_run"`
}

// Publisher uploads the files listed in a build manifest
type Publisher struct {
	store   storage.Storage
	opts    Options
	limiter *rate.Limiter
	metrics *observability.Metrics
}

// NewPublisher creates a publisher. metrics may be nil.
func NewPublisher(store storage.Storage, opts Options, metrics *observability.Metrics) *Publisher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Publisher{
		store:   store,
		opts:    opts,
		limiter: limiter,
		metrics: metrics,
	}
}

// ReleasePrefix returns the key prefix a manifest's files are published under
func (p *Publisher) ReleasePrefix(m *manifest.Manifest) string {
	return path.Join(p.opts.Prefix, m.Version)
}

// Publish uploads every file in m from dir, followed by the manifest itself.
// The manifest goes last so a release is only visible once complete.
func (p *Publisher) Publish(ctx context.Context, dir string, m *manifest.Manifest) (*Result, error) {
	prefix := p.ReleasePrefix(m)
	result := &Result{
		Provider: p.store.Name(),
		Bucket:   p.opts.Bucket,
		Prefix:   prefix,
		DryRun:   p.opts.DryRun,
	}

	files := append(m.Files(), manifest.FileName)
	uploads := make([]Upload, 0, len(files))
	for _, file := range files {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(file)))
		if err != nil {
			return nil, fmt.Errorf("build output %s is missing: %w", file, err)
		}
		contentType, encoding := contentHeaders(file)
		uploads = append(uploads, Upload{
			File:            file,
			Key:             path.Join(prefix, file),
			Size:            info.Size(),
			ContentType:     contentType,
			ContentEncoding: encoding,
		})
	}

	if p.opts.DryRun {
		result.Uploads = uploads
		for _, u := range uploads {
			result.Bytes += u.Size
		}
		return result, nil
	}

	if err := p.store.EnsureBucket(ctx, p.opts.Bucket); err != nil {
		return nil, err
	}

	if !p.opts.Overwrite {
		exists, err := p.store.Exists(ctx, p.opts.Bucket, path.Join(prefix, manifest.FileName))
		if err != nil {
			return nil, fmt.Errorf("failed to check existing release: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyPublished, p.opts.Bucket, prefix)
		}
	}

	for _, u := range uploads {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := p.upload(ctx, dir, u, m.BuildID); err != nil {
			return nil, err
		}
		result.Uploads = append(result.Uploads, u)
		result.Bytes += u.Size
	}

	log.Info().
		Str("provider", result.Provider).
		Str("bucket", result.Bucket).
		Str("prefix", prefix).
		Int("files", len(result.Uploads)).
		Int64("bytes", result.Bytes).
		Msg("Release published")

	return result, nil
}

func (p *Publisher) upload(ctx context.Context, dir string, u Upload, buildID string) (err error) {
	ctx, span := observability.StartStorageSpan(ctx, "upload", p.opts.Bucket, u.Key)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordUpload(p.store.Name(), u.Size, err)
		}
	}()

	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(u.File)))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", u.File, err)
	}
	defer f.Close()

	_, err = p.store.Upload(ctx, p.opts.Bucket, u.Key, f, u.Size, &storage.UploadOptions{
		ContentType:     u.ContentType,
		ContentEncoding: u.ContentEncoding,
		CacheControl:    p.opts.CacheControl,
		Metadata:        map[string]string{"build-id": buildID},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", u.File, err)
	}

	log.Debug().
		Str("key", u.Key).
		Int64("bytes", u.Size).
		Dur("duration", time.Since(start)).
		Msg("Uploaded")
	return nil
}

// contentHeaders returns the Content-Type and Content-Encoding for a release
// file. Compressed siblings keep the type of the file they were made from.
func contentHeaders(file string) (contentType, encoding string) {
	name := file
	if alg, ok := compress.AlgorithmForFile(file); ok {
		encoding = alg.ContentEncoding()
		name = strings.TrimSuffix(file, alg.Extension())
	}

	switch ext := path.Ext(name); ext {
	case ".js":
		contentType = "text/javascript; charset=utf-8"
	case ".map", ".json":
		contentType = "application/json"
	default:
		contentType = mime.TypeByExtension(ext)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	return contentType, encoding
}

// OpenStorage creates the store named by cfg.Provider. With the keychain
// credential store, an empty secret key is read from the system keychain.
func OpenStorage(cfg config.PublishConfig, projectDir string, keychain *KeychainStore) (storage.Storage, error) {
	switch cfg.Provider {
	case "local":
		localPath := cfg.LocalPath
		if !filepath.IsAbs(localPath) && projectDir != "" {
			localPath = filepath.Join(projectDir, localPath)
		}
		return storage.NewLocalStorage(localPath)

	case "s3":
		secret := cfg.S3SecretKey
		if secret == "" && cfg.CredentialStore == "keychain" {
			if keychain == nil {
				keychain = NewKeychainStore()
			}
			stored, err := keychain.LoadSecret(cfg.S3Endpoint, cfg.S3AccessKey)
			if err != nil {
				return nil, err
			}
			if stored == "" {
				return nil, fmt.Errorf("no secret key in keychain for %s - run 'fluxpack publish login'", account(cfg.S3Endpoint, cfg.S3AccessKey))
			}
			secret = stored
		}
		if secret == "" {
			return nil, fmt.Errorf("publish.s3_secret_key is required (or set credential_store: keychain)")
		}
		return storage.NewS3Storage(cfg.S3Endpoint, cfg.S3AccessKey, secret, cfg.S3Region, cfg.S3UseSSL)

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
