// Package devserver serves a build output directory together with an HTML
// page that loads the bundles the way a host page would.
package devserver

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/compress"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"
)

// ManifestPath is the route returning the build manifest
const ManifestPath = "/__manifest"

// Options configures the dev server
type Options struct {
	// OutputDir is the build output directory to serve
	OutputDir string
	// Misordered loads the bundles in reverse plan order so the load-order
	// error of the dependents can be observed
	Misordered bool
	// Metrics, when set, records request metrics and serves /metrics
	Metrics *observability.Metrics
	Debug   bool
}

// Server is the dev server
type Server struct {
	app  *fiber.App
	opts Options
}

// encodings are the precompressed siblings the server prefers, best first
var encodings = []compress.Algorithm{compress.Brotli, compress.Gzip}

// New creates a dev server for opts.OutputDir
func New(opts Options) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "fluxpack",
		AppName:               "fluxpack dev server",
		DisableStartupMessage: !opts.Debug,
		ErrorHandler:          errorHandler,
	})

	s := &Server{app: app, opts: opts}

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,HEAD,OPTIONS",
	}))

	if opts.Metrics != nil {
		app.Use(opts.Metrics.MetricsMiddleware())
		app.Get("/metrics", opts.Metrics.Handler())
	}

	app.Get("/", s.handleHarness)
	app.Get(ManifestPath, s.handleManifest)
	app.Get("/*", s.handleFile)

	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	log.Info().
		Str("address", addr).
		Str("dir", s.opts.OutputDir).
		Bool("misordered", s.opts.Misordered).
		Msg("Dev server listening")
	return s.app.Listen(addr)
}

// Shutdown stops the server, waiting for active requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleManifest returns the manifest of the current build. It is read on
// every request so a rebuild shows up without restarting the server.
func (s *Server) handleManifest(c *fiber.Ctx) error {
	m, err := s.readManifest()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(m)
}

func (s *Server) readManifest() (*manifest.Manifest, error) {
	m, err := manifest.Read(s.opts.OutputDir)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return m, nil
}

// handleFile serves a file of the output directory, preferring a
// precompressed sibling the client accepts
func (s *Server) handleFile(c *fiber.Ctx) error {
	rel := path.Clean("/" + c.Params("*"))
	if rel == "/" {
		return fiber.ErrNotFound
	}
	file := filepath.Join(s.opts.OutputDir, filepath.FromSlash(strings.TrimPrefix(rel, "/")))

	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return fiber.ErrNotFound
	}

	served := file
	if _, ok := compress.AlgorithmForFile(file); !ok {
		c.Vary(fiber.HeaderAcceptEncoding)
		for _, alg := range encodings {
			if c.AcceptsEncodings(alg.ContentEncoding()) != alg.ContentEncoding() {
				continue
			}
			if _, err := os.Stat(file + alg.Extension()); err == nil {
				served = file + alg.Extension()
				c.Set(fiber.HeaderContentEncoding, alg.ContentEncoding())
				break
			}
		}
	}

	data, err := os.ReadFile(served)
	if err != nil {
		return err
	}

	c.Type(filepath.Ext(file), "utf-8")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(data)
}

// errorHandler returns errors as JSON
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
