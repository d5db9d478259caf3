// Package webserver serves live scenario progress over HTTP.
package webserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/10gen/replset-harness/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ProgressSource reports the progress of a harness run.
type ProgressSource interface {
	Progress() Progress
}

// WebServer represents the HTTP server
type WebServer struct {
	port   int
	source ProgressSource
	logger *logger.Logger
	srv    *http.Server
	bound  chan int
}

// NewWebServer creates a WebServer object. Port 0 binds an ephemeral port.
func NewWebServer(port int, source ProgressSource, logger *logger.Logger) *WebServer {
	return &WebServer{
		port:   port,
		source: source,
		logger: logger,
		bound:  make(chan int, 1),
	}
}

// A wrapper around gin.ResponseWriter with its own buffer.
// This lets us capture the response body and log it separately.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write stores the provided bytes before calling (gin.ResponseWriter).Write.
func (rbw responseBodyWriter) Write(b []byte) (int, error) {
	rbw.body.Write(b)
	return rbw.ResponseWriter.Write(b)
}

// RequestAndResponseLogger is the middleware for logging the request and response.
func (server *WebServer) RequestAndResponseLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()

		// A UUID to correlate each request with a response in the logs.
		traceID := uuid.New().String()

		var buf []byte
		if c.Request.Body != nil {
			// The request body can only be read once.
			buf, _ = io.ReadAll(c.Request.Body)
		}
		server.logger.Debug().Str("uri", c.Request.RequestURI).
			Str("method", c.Request.Method).
			Str("body", string(buf)).
			Str("clientIP", c.ClientIP()).
			Str("traceID", traceID).
			Msg("Received request.")

		c.Request.Body = io.NopCloser(bytes.NewBuffer(buf))
		c.Header("Trace-Id", traceID)

		rbw := &responseBodyWriter{ResponseWriter: c.Writer, body: bytes.NewBufferString("")}
		c.Writer = rbw

		c.Next()

		server.logger.Debug().Int("status", c.Writer.Status()).
			Str("body", rbw.body.String()).
			Str("traceID", traceID).
			Str("latency", time.Since(t).String()).
			Msg("Sent response.")
	}
}

func (server *WebServer) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(server.RequestAndResponseLogger(), gin.Recovery())

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/progress", server.progressEndpoint)
		}
	}

	router.HandleMethodNotAllowed = true
	return router
}

// BoundPort returns the port that Run listens on, once it listens.
func (server *WebServer) BoundPort(ctx context.Context) (int, error) {
	select {
	case port := <-server.bound:
		server.bound <- port
		return port, nil
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "web server never bound a port")
	}
}

// Run serves until ctx ends. This is a blocking call.
// This function should only be called once during each Webserver's life time.
func (server *WebServer) Run(ctx context.Context) error {
	addrStr := fmt.Sprintf("0.0.0.0:%d", server.port)
	server.logger.Info().
		Str("address", addrStr).
		Msg("Starting web server.")

	listener, err := net.Listen("tcp", addrStr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind to %s", addrStr)
	}

	boundPort := listener.Addr().(*net.TCPAddr).Port
	server.logger.Info().
		Int("port", boundPort).
		Msg("Web server started.")
	server.bound <- boundPort

	server.srv = &http.Server{
		Handler:           server.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	webServerCtx, shutDownWebServer := context.WithCancelCause(ctx)
	defer shutDownWebServer(nil)

	var serveErr error

	go func() {
		// Handle incoming requests. We always get a non-nil error at the end.
		err := server.srv.Serve(listener)

		if !errors.Is(err, http.ErrServerClosed) {
			server.logger.Error().Err(err).Msg("Web server failed.")
			serveErr = err
			shutDownWebServer(err)
		}
	}()

	<-webServerCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := server.srv.Shutdown(shutdownCtx); err != nil {
		server.logger.Error().Err(err).Msg("Web server forced to shut down.")
	}

	return errors.Wrap(serveErr, "web server failed")
}

// progressEndpoint implements the gin handle for the progress endpoint.
func (server *WebServer) progressEndpoint(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"progress": server.source.Progress(),
	})
}
