// Package risk evaluates a transaction against every fraud signal and
// issues a block/allow verdict.
//
// Four independent scorers run concurrently for each request: the ML model
// score, login anomalies, withdrawal anomalies and geospatial clustering.
// Their bundles are merged by the decision aggregator into a verdict that
// carries up to five human-readable block reasons. Every verdict is written
// to an audit store after the response is built.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Muneeb-Masood/EC-ML/internal/decision"
	"github.com/Muneeb-Masood/EC-ML/internal/geo"
	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
	"github.com/Muneeb-Masood/EC-ML/internal/login"
	"github.com/Muneeb-Masood/EC-ML/internal/ml"
	"github.com/Muneeb-Masood/EC-ML/internal/pagination"
	"github.com/Muneeb-Masood/EC-ML/internal/withdrawal"
)

// Transaction types accepted by the API.
const (
	TypeWithdrawal = "withdrawal"
	TypeTransfer   = "transfer"
	TypeDeposit    = "deposit"
)

// TransactionTypes lists the accepted transaction types.
var TransactionTypes = []string{TypeWithdrawal, TypeTransfer, TypeDeposit}

// Source identifies how a request reached the engine.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceStream Source = "stream"
)

// ErrNotFound is returned when no verdict exists for a transaction.
var ErrNotFound = errors.New("risk: verdict not found")

// TransactionRequest is one scoring request. It is not modified after decoding.
type TransactionRequest struct {
	TransactionID   string                   `json:"transaction_id"`
	UserID          string                   `json:"user_id"`
	TransactionType string                   `json:"transaction_type"`
	TransactionData map[string]jsonnum.Value `json:"transaction_data"`
	LoginData       *login.Context           `json:"login_data"`
	WithdrawalData  *withdrawal.Context      `json:"withdrawal_data,omitempty"`
	GeoHistory      []geo.RawPoint           `json:"geospacial_transaction_data_2d,omitempty"`
}

// Verdict is the merged outcome of one evaluation.
type Verdict struct {
	ID              string
	TransactionID   string
	UserID          string
	TransactionType string
	ML              *ml.Score
	Clusters        *geo.Report
	Login           *login.Scores
	Withdrawal      *withdrawal.Scores
	Decision        decision.Decision
	Source          Source
	EvaluatedAt     time.Time
}

// MLScore returns the model probability, or nil when none was obtained.
func (v *Verdict) MLScore() *float64 {
	if v.ML == nil {
		return nil
	}
	return v.ML.Probability
}

// MarshalJSON writes the response body returned to callers.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TransactionID string             `json:"transaction_id"`
		MLScore       *float64           `json:"ML_fraud_score"`
		Clusters      *geo.Report        `json:"clusters_info"`
		Login         *login.Scores      `json:"login_anomalies"`
		Withdrawal    *withdrawal.Scores `json:"withdrawal_anomalies"`
		Block         bool               `json:"block_transaction"`
		Reasons       decision.Reasons   `json:"block_reasons"`
	}{
		TransactionID: v.TransactionID,
		MLScore:       v.MLScore(),
		Clusters:      v.Clusters,
		Login:         v.Login,
		Withdrawal:    v.Withdrawal,
		Block:         v.Decision.Block,
		Reasons:       nonNil(v.Decision.Reasons),
	})
}

func nonNil(r decision.Reasons) decision.Reasons {
	if r == nil {
		return decision.Reasons{}
	}
	return r
}

// AuditRecord is the stored form of a verdict.
type AuditRecord struct {
	ID              string          `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	UserID          string          `json:"user_id"`
	TransactionType string          `json:"transaction_type"`
	MLScore         *float64        `json:"ml_fraud_score"`
	Block           bool            `json:"block_transaction"`
	Reasons         json.RawMessage `json:"block_reasons"`
	Response        json.RawMessage `json:"response"`
	Source          Source          `json:"source"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// AuditRecord renders v for storage.
func (v *Verdict) AuditRecord() (*AuditRecord, error) {
	response, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	reasons, err := json.Marshal(nonNil(v.Decision.Reasons))
	if err != nil {
		return nil, err
	}
	return &AuditRecord{
		ID:              v.ID,
		TransactionID:   v.TransactionID,
		UserID:          v.UserID,
		TransactionType: v.TransactionType,
		MLScore:         v.MLScore(),
		Block:           v.Decision.Block,
		Reasons:         reasons,
		Response:        response,
		Source:          v.Source,
		EvaluatedAt:     v.EvaluatedAt,
	}, nil
}

// Store persists verdicts for the audit trail.
type Store interface {
	Record(ctx context.Context, rec *AuditRecord) error
	// GetByTransaction returns the latest verdict for txID or ErrNotFound.
	GetByTransaction(ctx context.Context, txID string) (*AuditRecord, error)
	// ListByUser returns up to limit verdicts for userID, newest first,
	// starting after the cursor position (from the start when nil).
	ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*AuditRecord, error)
}

// Publisher forwards verdicts to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, v *Verdict) error
}

func newVerdictID() string {
	return uuid.NewString()
}
