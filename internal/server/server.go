package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apiv1 "autodoc.dev/deployer/api/descriptor/v1"
	"autodoc.dev/deployer/internal/descriptor"
	"autodoc.dev/deployer/internal/engine"
	"autodoc.dev/deployer/internal/logger"
)

// Server publishes one immutable descriptor. Handlers only read it.
type Server struct {
	descriptor *descriptor.Descriptor
	encoded    []byte
	version    string
	now        func() time.Time
}

var _ apiv1.ServerInterface = (*Server)(nil)

func New(d *descriptor.Descriptor, version string) (*Server, error) {
	encoded, err := descriptor.Encode(d)
	if err != nil {
		return nil, err
	}
	return &Server{
		descriptor: d,
		encoded:    encoded,
		version:    version,
		now:        time.Now,
	}, nil
}

// Router wires the handlers into a gin engine with recovery and request
// logging.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.Middleware(s.descriptor.Name))
	apiv1.RegisterHandlersWithOptions(router, s, apiv1.GinServerOptions{
		ErrorHandler: func(c *gin.Context, err error, status int) {
			c.JSON(status, apiv1.ErrorResponse{Code: status, Message: err.Error()})
		},
	})
	return router
}

func (s *Server) GetPing(c *gin.Context) {
	version := s.version
	c.JSON(http.StatusOK, apiv1.PingResponse{
		Status:    "ok",
		Timestamp: s.now(),
		Version:   &version,
	})
}

func (s *Server) GetDescriptor(c *gin.Context) {
	c.Header("ETag", `"`+s.descriptor.Digest+`"`)
	c.Data(http.StatusOK, "application/yaml", s.encoded)
}

func (s *Server) ListServices(c *gin.Context) {
	c.JSON(http.StatusOK, apiv1.ServiceList{
		Name:     s.descriptor.Name,
		Path:     s.descriptor.Path,
		Digest:   s.descriptor.Digest,
		Services: s.descriptor.ServiceNames(),
	})
}

func (s *Server) GetService(c *gin.Context, name string) {
	svc, err := s.descriptor.Lookup(name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (s *Server) GetServiceContainer(c *gin.Context, name string) {
	svc, err := s.descriptor.Lookup(name)
	if err != nil {
		s.fail(c, err)
		return
	}
	opts, err := engine.ContainerOptions(s.descriptor.Name, svc)
	if err != nil {
		s.fail(c, err)
		return
	}
	opts.Config.Labels[engine.LabelDigest] = s.descriptor.Digest
	c.JSON(http.StatusOK, opts)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, descriptor.ErrUnknownService) {
		status = http.StatusNotFound
	} else {
		logger.Error(c, "request failed", "error", err)
	}
	c.JSON(status, apiv1.ErrorResponse{Code: status, Message: fmt.Sprint(err)})
}
