package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
)

func TestValidate_CollectsFailuresInOrder(t *testing.T) {
	errs := Validate(
		Required("transaction_id", "tx-1"),
		Required("user_id", "  "),
		OneOf("transaction_type", "refund", "withdrawal", "transfer", "deposit"),
	)

	require.Len(t, errs, 2)
	assert.Equal(t, "user_id", errs[0].Field)
	assert.Equal(t, "transaction_type", errs[1].Field)
	assert.Equal(t, "user_id: is required", errs.Error())
	assert.Contains(t, errs[1].Message, "got 'refund'")
}

func TestValidate_NoChecks(t *testing.T) {
	errs := Validate()
	assert.Empty(t, errs)
	assert.Equal(t, "validation failed", errs.Error())
}

func TestMaxLength(t *testing.T) {
	assert.Nil(t, MaxLength("id", "abc", 3)())
	assert.NotNil(t, MaxLength("id", "abcd", 3)())
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value jsonnum.Value
		ok    bool
	}{
		{"number", jsonnum.Float(51.5), true},
		{"numeric string", jsonnum.From("-0.12"), true},
		{"missing", jsonnum.Value{}, false},
		{"text", jsonnum.From("north"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Numeric("session.latitude", tt.value)()
			if tt.ok {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, "session.latitude", err.Field)
			}
		})
	}
}

func TestPresentValue(t *testing.T) {
	assert.Nil(t, PresentValue("withdrawals_24h", jsonnum.From("lots"))())
	assert.NotNil(t, PresentValue("withdrawals_24h", jsonnum.Value{})())
}

func TestRequiredKeys(t *testing.T) {
	keys := []string{"b", "a", "c"}

	assert.Nil(t, RequiredKeys("data", map[string]int{"a": 1, "b": 2, "c": 3}, keys)())

	err := RequiredKeys("data", map[string]int{"b": 2}, keys)()
	require.NotNil(t, err)
	assert.Equal(t, "missing fields 'a', 'c'", err.Message)

	err = RequiredKeys[int]("data", nil, keys)()
	require.NotNil(t, err)
	assert.Equal(t, "is required", err.Message)
}

func TestWhen(t *testing.T) {
	assert.Nil(t, When(false, Required("x", ""))())
	assert.NotNil(t, When(true, Required("x", ""))())
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/detect_fraud", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/detect_fraud", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	big := `{"a":"` + strings.Repeat("x", 64) + `"}`
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/detect_fraud", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
