package risk

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/pagination"
)

// Handler provides the HTTP scoring API.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new scoring handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the scoring route on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/detect_fraud", h.DetectFraud)
}

// RegisterAuditRoutes sets up the verdict lookup routes on r.
func (h *Handler) RegisterAuditRoutes(r gin.IRoutes) {
	r.GET("/verdicts/:transactionId", h.GetVerdict)
	r.GET("/users/:userId/verdicts", h.ListUserVerdicts)
}

// DetectFraud handles POST /detect_fraud and POST /v1/detect_fraud
func (h *Handler) DetectFraud(c *gin.Context) {
	if c.ContentType() != gin.MIMEJSON {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Request must be in JSON format",
			"reason": "Received non-JSON request",
		})
		return
	}

	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status, body := decodeFailure(err)
		c.JSON(status, body)
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		logging.L(c.Request.Context()).Info("scoring request rejected",
			"transaction_id", req.TransactionID,
			"reason", errs.Error(),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"reason":  errs.Error(),
			"details": errs,
		})
		return
	}

	verdict := h.engine.Evaluate(c.Request.Context(), &req, SourceHTTP)
	c.JSON(http.StatusOK, verdict)
}

// GetVerdict handles GET /v1/verdicts/:transactionId
func (h *Handler) GetVerdict(c *gin.Context) {
	store := h.engine.Store()
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "not_found",
			"reason": "Verdict audit trail is disabled",
		})
		return
	}

	rec, err := store.GetByTransaction(c.Request.Context(), c.Param("transactionId"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "not_found",
			"reason": "No verdict recorded for this transaction",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("verdict lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "internal_error",
			"reason": "Failed to load verdict",
		})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// ListUserVerdicts handles GET /v1/users/:userId/verdicts?limit=&cursor=
func (h *Handler) ListUserVerdicts(c *gin.Context) {
	store := h.engine.Store()
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "not_found",
			"reason": "Verdict audit trail is disabled",
		})
		return
	}

	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": err.Error()})
		return
	}
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": err.Error()})
		return
	}

	records, err := store.ListByUser(c.Request.Context(), c.Param("userId"), after, limit+1)
	if err != nil {
		logging.L(c.Request.Context()).Error("verdict list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "internal_error",
			"reason": "Failed to list verdicts",
		})
		return
	}

	page, next := pagination.ComputePage(records, limit, func(r *AuditRecord) (time.Time, string) {
		return r.EvaluatedAt, r.ID
	})
	if page == nil {
		page = []*AuditRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"verdicts":    page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    next != "",
	})
}

func decodeFailure(err error) (int, gin.H) {
	var tooLarge *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, gin.H{
			"error":  "request_too_large",
			"reason": "Request body exceeds the size limit",
		}
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return http.StatusBadRequest, gin.H{
			"error":  "Invalid '" + typeErr.Field + "'",
			"reason": "'" + typeErr.Field + "' must be " + describeKind(typeErr),
		}
	default:
		return http.StatusBadRequest, gin.H{
			"error":  "Request must be in JSON format",
			"reason": "Malformed JSON body",
		}
	}
}

func describeKind(err *json.UnmarshalTypeError) string {
	switch err.Type.Kind() {
	case reflect.Slice:
		return "a list"
	case reflect.Map, reflect.Struct:
		return "an object"
	default:
		return "a " + err.Type.String()
	}
}
