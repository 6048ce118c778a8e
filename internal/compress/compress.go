// Package compress writes precompressed siblings (.gz, .br) of build outputs.
package compress

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Algorithm identifies a compression format
type Algorithm string

const (
	Gzip   Algorithm = "gzip"
	Brotli Algorithm = "brotli"
)

// Extension returns the file suffix for the algorithm
func (a Algorithm) Extension() string {
	switch a {
	case Brotli:
		return ".br"
	default:
		return ".gz"
	}
}

// ContentEncoding returns the HTTP Content-Encoding value for the algorithm
func (a Algorithm) ContentEncoding() string {
	switch a {
	case Brotli:
		return "br"
	default:
		return "gzip"
	}
}

// ParseAlgorithm parses an algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "gzip", "gz":
		return Gzip, nil
	case "brotli", "br":
		return Brotli, nil
	default:
		return "", fmt.Errorf("unknown compression algorithm: %s (valid: gzip, brotli)", s)
	}
}

// AlgorithmForFile returns the algorithm that produced a compressed sibling
func AlgorithmForFile(name string) (Algorithm, bool) {
	switch filepath.Ext(name) {
	case ".gz":
		return Gzip, true
	case ".br":
		return Brotli, true
	default:
		return "", false
	}
}

// Options configures which files are compressed and when results are kept
type Options struct {
	// Test selects files by name (default `\.js$`)
	Test string

	Algorithms []Algorithm

	// Threshold skips files smaller than this many bytes
	Threshold int

	// MinRatio drops results whose compressed/original ratio is not below it
	MinRatio float64
}

// Result describes one compressed sibling
type Result struct {
	Source          string    `json:"source"`
	Path            string    `json:"path,omitempty"`
	Algorithm       Algorithm `json:"algorithm"`
	OriginalBytes   int       `json:"original_bytes"`
	CompressedBytes int       `json:"compressed_bytes"`
	Skipped         bool      `json:"skipped,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

// Ratio returns compressed size over original size
func (r Result) Ratio() float64 {
	if r.OriginalBytes == 0 {
		return 0
	}
	return float64(r.CompressedBytes) / float64(r.OriginalBytes)
}

// Compressor applies Options to files on disk
type Compressor struct {
	test       *regexp.Regexp
	algorithms []Algorithm
	threshold  int
	minRatio   float64
}

// New validates the options and returns a compressor
func New(opts Options) (*Compressor, error) {
	pattern := opts.Test
	if pattern == "" {
		pattern = `\.js$`
	}
	test, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid compression test pattern %q: %w", pattern, err)
	}

	algorithms := opts.Algorithms
	if len(algorithms) == 0 {
		algorithms = []Algorithm{Gzip}
	}

	minRatio := opts.MinRatio
	if minRatio <= 0 {
		minRatio = 0.8
	}

	return &Compressor{
		test:       test,
		algorithms: algorithms,
		threshold:  opts.Threshold,
		minRatio:   minRatio,
	}, nil
}

// Matches reports whether a file name is selected for compression
func (c *Compressor) Matches(name string) bool {
	return c.test.MatchString(name)
}

// CompressFile writes a sibling per algorithm next to path. Files that do not
// match the test pattern return no results.
func (c *Compressor) CompressFile(path string) ([]Result, error) {
	if !c.Matches(filepath.Base(path)) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	results := make([]Result, 0, len(c.algorithms))
	for _, alg := range c.algorithms {
		result := Result{
			Source:        path,
			Algorithm:     alg,
			OriginalBytes: len(data),
		}

		if len(data) < c.threshold {
			result.Skipped = true
			result.Reason = fmt.Sprintf("below threshold of %d bytes", c.threshold)
			results = append(results, result)
			continue
		}

		compressed, err := Compress(data, alg)
		if err != nil {
			return nil, fmt.Errorf("failed to compress %s: %w", path, err)
		}
		result.CompressedBytes = len(compressed)

		if result.Ratio() >= c.minRatio {
			result.Skipped = true
			result.Reason = fmt.Sprintf("ratio %.2f not below %.2f", result.Ratio(), c.minRatio)
			results = append(results, result)
			continue
		}

		result.Path = path + alg.Extension()
		if err := os.WriteFile(result.Path, compressed, 0644); err != nil { //nolint:gosec // build artifacts are public
			return nil, fmt.Errorf("failed to write %s: %w", result.Path, err)
		}

		log.Debug().
			Str("file", result.Path).
			Int("bytes", result.CompressedBytes).
			Float64("ratio", result.Ratio()).
			Msg("Compressed output")

		results = append(results, result)
	}

	return results, nil
}

// Compress encodes data with the highest compression level of alg
func Compress(data []byte, alg Algorithm) ([]byte, error) {
	var buf bytes.Buffer

	switch alg {
	case Gzip:
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case Brotli:
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", alg)
	}

	return buf.Bytes(), nil
}
