// Package v1 is the HTTP contract of the descriptor hand-off server. The
// orchestration engine reads the loaded descriptor through these routes.
package v1

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
)

// PingResponse defines model for PingResponse.
type PingResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   *string   `json:"version,omitempty"`
}

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServiceList defines model for ServiceList.
type ServiceList struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Digest   string   `json:"digest"`
	Services []string `json:"services"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *gin.Context)
	// (GET /descriptor)
	GetDescriptor(c *gin.Context)
	// (GET /services)
	ListServices(c *gin.Context)
	// (GET /services/{name})
	GetService(c *gin.Context, name string)
	// (GET /services/{name}/container)
	GetServiceContainer(c *gin.Context, name string)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandler       func(*gin.Context, error, int)
}

type MiddlewareFunc func(c *gin.Context)

func (siw *ServerInterfaceWrapper) runMiddlewares(c *gin.Context) bool {
	for _, middleware := range siw.HandlerMiddlewares {
		middleware(c)
		if c.IsAborted() {
			return false
		}
	}
	return true
}

func (siw *ServerInterfaceWrapper) bindName(c *gin.Context) (string, bool) {
	var name string
	err := runtime.BindStyledParameterWithOptions("simple", "name", c.Param("name"), &name, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		siw.ErrorHandler(c, fmt.Errorf("invalid format for parameter name: %w", err), http.StatusBadRequest)
		return "", false
	}
	return name, true
}

// GetPing operation middleware
func (siw *ServerInterfaceWrapper) GetPing(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetPing(c)
}

// GetDescriptor operation middleware
func (siw *ServerInterfaceWrapper) GetDescriptor(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetDescriptor(c)
}

// ListServices operation middleware
func (siw *ServerInterfaceWrapper) ListServices(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.ListServices(c)
}

// GetService operation middleware
func (siw *ServerInterfaceWrapper) GetService(c *gin.Context) {
	name, ok := siw.bindName(c)
	if !ok {
		return
	}
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetService(c, name)
}

// GetServiceContainer operation middleware
func (siw *ServerInterfaceWrapper) GetServiceContainer(c *gin.Context) {
	name, ok := siw.bindName(c)
	if !ok {
		return
	}
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetServiceContainer(c, name)
}

// GinServerOptions provides options for the Gin server.
type GinServerOptions struct {
	BaseURL      string
	Middlewares  []MiddlewareFunc
	ErrorHandler func(*gin.Context, error, int)
}

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router gin.IRouter, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, GinServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router gin.IRouter, si ServerInterface, options GinServerOptions) {
	errorHandler := options.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(c *gin.Context, err error, statusCode int) {
			c.JSON(statusCode, gin.H{"msg": err.Error()})
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandler:       errorHandler,
	}

	router.GET(options.BaseURL+"/ping", wrapper.GetPing)
	router.GET(options.BaseURL+"/descriptor", wrapper.GetDescriptor)
	router.GET(options.BaseURL+"/services", wrapper.ListServices)
	router.GET(options.BaseURL+"/services/:name", wrapper.GetService)
	router.GET(options.BaseURL+"/services/:name/container", wrapper.GetServiceContainer)
}
