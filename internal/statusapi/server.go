// Package statusapi serves the basket's health and connection status over HTTP.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/gateway"
	"github.com/rickgao/basket-router/internal/version"
)

// StatusSource reports the basket state. *gateway.Gateway implements it.
type StatusSource interface {
	Status() gateway.Status
}

// Server is the HTTP status server.
type Server struct {
	source   StatusSource
	instance string
	logger   *logrus.Entry
	srv      *http.Server
}

// New creates a status server for source listening on port.
func New(source StatusSource, instance string, port int, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		source:   source,
		instance: instance,
		logger:   logger.WithField("component", "status_api"),
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/connections", s.handleConnections)
	r.GET("/version", s.handleVersion)
	return r
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.srv.Addr).Info("status server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("error", err).Error("status server failed")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleHealth answers 200 while the basket is connected, 503 otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	st := s.source.Status()
	code := http.StatusOK
	if st.State != "connected" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"instance":  s.instance,
		"state":     st.State,
		"connected": st.Connected,
		"total":     st.Total,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) handleConnections(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status().Connections)
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Info())
}
