package cabinet

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"harnscabinet/pkg/apis"
	"harnscabinet/pkg/apis/response"
	"harnscabinet/pkg/control"
	"harnscabinet/pkg/dispatcher"
	"harnscabinet/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
)

const defaultRecordLimit = 100

var patchTypes = sets.NewString(string(types.JSONPatchType), string(types.MergePatchType))

func InstallHandler(group *gin.RouterGroup, mgr *Manager) {
	group.GET("/snapshot", getSnapshot(mgr))
	group.GET("/stream", stream(mgr))
	group.POST("/operations/:action", executeAction(mgr))
	group.DELETE("/operations", cancelOperation(mgr))
	group.POST("/plans/:plan", runPlan(mgr))
	group.GET("/config/delays", getDelays(mgr))
	group.PATCH("/config/delays", patchDelays(mgr))
	group.GET("/alarms", listAlarms(mgr))
	group.GET("/records/:kind", listRecords(mgr))
	group.GET("/dispatcher", getDiagnostics(mgr))
	group.DELETE("/dispatcher/lock", resetLock(mgr))
}

func getSnapshot(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := mgr.Snapshot()
		if snap.IsZero() {
			c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound("snapshot")))
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func stream(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		mgr.Hub().Serve(c, mgr.Snapshot())
	}
}

// controlStatus maps a rejected or failed action to a status code. A nil
// return means the outcome itself is the answer.
func controlStatus(err error) (int, error) {
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, control.ErrUnknownAction), errors.Is(err, control.ErrUnknownPlan):
		return http.StatusNotFound, response.ErrLegalActionNotFound
	case errors.Is(err, control.ErrOperationActive), errors.Is(err, control.ErrPlanActive):
		return http.StatusConflict, response.ErrBusy
	case errors.Is(err, control.ErrPreconditionFailed):
		return http.StatusConflict, nil
	case errors.Is(err, dispatcher.ErrLinkUnavailable):
		return http.StatusServiceUnavailable, response.ErrLinkUnavailable
	}
	return http.StatusOK, nil
}

func executeAction(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		action, err := control.ParseAction(c.Param("action"))
		if err != nil {
			c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrLegalActionNotFound))
			return
		}
		outcome, err := mgr.Execute(action)
		status, rerr := controlStatus(err)
		switch {
		case rerr != nil:
			c.JSON(status, response.NewMultiError(rerr))
		case status == http.StatusConflict:
			c.JSON(status, response.NewMultiError(response.ErrOperationRejected(string(action), err)))
		case outcome == nil:
			c.JSON(http.StatusInternalServerError, response.NewMultiError(response.ErrOperationFailed(string(action), err)))
		default:
			c.JSON(http.StatusOK, outcome)
		}
	}
}

func cancelOperation(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, cancelled := mgr.Cancel()
		if !cancelled {
			c.Status(http.StatusNoContent)
			return
		}
		klog.V(2).InfoS("Cancelled by request", "running", owner)
		c.JSON(http.StatusOK, gin.H{"cancelled": owner})
	}
}

func runPlan(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("plan")
		report, err := mgr.RunPlan(name)
		status, rerr := controlStatus(err)
		switch {
		case rerr != nil:
			c.JSON(status, response.NewMultiError(rerr))
		case report == nil:
			c.JSON(http.StatusInternalServerError, response.NewMultiError(response.ErrOperationFailed(name, err)))
		default:
			c.JSON(http.StatusOK, report)
		}
	}
}

func getDelays(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Delays())
	}
}

func patchDelays(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Request.Body.Close()

		contentType := c.GetHeader("Content-Type")
		// Remove "; charset=" if included in header.
		if idx := strings.Index(contentType, ";"); idx > 0 {
			contentType = contentType[:idx]
		}
		if !patchTypes.Has(contentType) {
			c.Status(http.StatusUnsupportedMediaType)
			return
		}

		patchBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			klog.V(3).InfoS("Failed to read", "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		updated, err := mgr.PatchDelays(types.PatchType(contentType), patchBytes)
		if err != nil {
			if errors.Is(err, control.ErrMalformedPatch) {
				c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrMalformedJSON))
				return
			}
			c.JSON(http.StatusUnprocessableEntity, response.NewMultiError(response.ErrInvalidConfig(err)))
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func listAlarms(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alarms": mgr.Alarms()})
	}
}

func listRecords(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, ok := runtime.RecordKinds[c.Param("kind")]
		if !ok {
			c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound(c.Param("kind"))))
			return
		}
		limit := defaultRecordLimit
		if v := c.Query(apis.Limit); len(v) > 0 {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrRequestBody))
				return
			}
			limit = n
		}
		records, err := mgr.Records(kind, limit)
		if err != nil {
			klog.V(2).InfoS("Failed to load records", "kind", kind, "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func getDiagnostics(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Diagnostics())
	}
}

func resetLock(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		klog.V(1).InfoS("Dispatch lock reset by request", "remote", c.Request.RemoteAddr)
		mgr.ResetLock()
		c.Status(http.StatusNoContent)
	}
}
