package system

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"harnscabinet/pkg/apis"
	"harnscabinet/pkg/apis/response"
	"k8s.io/klog/v2"
)

func InstallHandler(group *gin.RouterGroup, mgr *Manager) {
	group.GET("/system/meta", getUnitMeta(mgr))
	group.PUT("/system/meta", updateUnitMeta(mgr))
	group.GET("/system/cpu", getCpu(mgr))
	group.GET("/system/mem", getMem(mgr))
	group.GET("/system/disk", getDisk(mgr))
}

func getUnitMeta(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := mgr.GetUnitMeta()
		c.Header(apis.ETag, u.GetVersion())
		c.JSON(http.StatusOK, u)
	}
}

func updateUnitMeta(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		eTag := c.GetHeader(apis.IfMatch)
		if len(eTag) == 0 {
			c.Status(http.StatusPreconditionRequired)
			return
		}
		var update UnitMeta
		if err := c.ShouldBindJSON(&update); err != nil {
			klog.V(2).InfoS("Failed to parse unit information", "err", err)
			c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrMalformedJSON))
			return
		}
		updated, err := mgr.UpdateUnitMeta(eTag, &update)
		if err != nil {
			switch {
			case os.IsNotExist(err):
				c.Status(http.StatusNotFound)
			case errors.Is(err, apis.ErrMismatch):
				c.Status(http.StatusPreconditionFailed)
			case errors.Is(err, ErrInvalidUnitMeta):
				c.JSON(http.StatusUnprocessableEntity, response.NewMultiError(response.ErrInvalidConfig(err)))
			default:
				klog.V(2).InfoS("Failed to update unit information", "err", err)
				c.Status(http.StatusInternalServerError)
			}
			return
		}
		c.Header(apis.ETag, updated.GetVersion())
		c.JSON(http.StatusOK, updated)
	}
}

func getCpu(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cpu, err := mgr.CpuUsage(c.Request.Context())
		if err != nil {
			klog.V(2).InfoS("Failed to read cpu usage", "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, ResponseModel{Cpus: cpu})
	}
}

func getMem(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		mem, err := mgr.MemUsage(c.Request.Context())
		if err != nil {
			klog.V(2).InfoS("Failed to read memory usage", "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, ResponseModel{Mem: mem})
	}
}

func getDisk(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		disks, err := mgr.DiskUsage(c.Request.Context())
		if err != nil {
			klog.V(2).InfoS("Failed to read disk usage", "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, ResponseModel{Disks: disks})
	}
}
