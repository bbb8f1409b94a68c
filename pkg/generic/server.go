package generic

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/apimachinery/pkg/util/sets"
)

const readHeaderTimeout = 10 * time.Second

// Server is the HTTP front of a daemon. Only the listed methods reach the
// router, anything else is answered with 405.
type Server struct {
	Router  *gin.Engine
	Port    string
	Methods []string
}

// AllowMethods is installed as the first middleware of Router.
func (s *Server) AllowMethods() gin.HandlerFunc {
	allowed := sets.NewString(s.Methods...)
	return func(c *gin.Context) {
		if len(allowed) != 0 && !allowed.Has(c.Request.Method) {
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		c.Next()
	}
}

// HTTPServer builds the listener configuration. A nil tlsConfig serves
// plain HTTP.
func (s *Server) HTTPServer(tlsConfig *tls.Config) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", s.Port),
		Handler:           s.Router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
