package risk

import (
	"context"
	"errors"
	"sync"

	"github.com/Muneeb-Masood/EC-ML/internal/config"
	"github.com/Muneeb-Masood/EC-ML/internal/enrich"
	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
	"github.com/Muneeb-Masood/EC-ML/internal/logging"
	"github.com/Muneeb-Masood/EC-ML/internal/login"
	"github.com/Muneeb-Masood/EC-ML/internal/ml"
	"github.com/Muneeb-Masood/EC-ML/internal/withdrawal"
)

// fixedModel returns the same probability for every request.
type fixedModel struct{ p float64 }

func (m fixedModel) Score(context.Context, map[string]jsonnum.Value) *ml.Score {
	p := m.p
	return &ml.Score{Probability: &p}
}

type panickingModel struct{}

func (panickingModel) Score(context.Context, map[string]jsonnum.Value) *ml.Score {
	panic("model exploded")
}

type fakeLocator struct {
	loc enrich.Location
	err error
}

func (f fakeLocator) Locate(context.Context, string) (enrich.Location, error) {
	return f.loc, f.err
}

type capturePublisher struct {
	mu       sync.Mutex
	verdicts []*Verdict
}

func (p *capturePublisher) Publish(_ context.Context, v *Verdict) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verdicts = append(p.verdicts, v)
	return nil
}

type failingStore struct{ MemoryStore }

func (failingStore) Record(context.Context, *AuditRecord) error {
	return errors.New("disk full")
}

func newTestEngine(model MLScorer, store Store) *Engine {
	logger := logging.Discard()
	return NewEngine(ComponentsFromConfig(config.DefaultScoring(), model, logger), store, logger)
}

func features() map[string]jsonnum.Value {
	data := make(map[string]jsonnum.Value, len(ml.FeatureNames))
	for i, name := range ml.FeatureNames {
		data[name] = jsonnum.Float(float64(i) + 0.5)
	}
	return data
}

// quietRequest is a transfer from a known device one hour after a login at
// the same place.
func quietRequest() *TransactionRequest {
	return &TransactionRequest{
		TransactionID:   "tx-1001",
		UserID:          "user789",
		TransactionType: TypeTransfer,
		TransactionData: features(),
		LoginData: &login.Context{
			Session: login.Session{
				UserID:    "user789",
				DeviceID:  "device909",
				Timestamp: "2025-03-09T09:00:00Z",
				Latitude:  jsonnum.From("12.32"),
				Longitude: jsonnum.From("120.3"),
			},
			DeviceHistory: []login.DeviceLogin{
				{UserID: "user789", DeviceID: "device909", Timestamp: "2025-03-09T08:00:00Z"},
			},
			LastLogin: login.LastLogin{
				UserID:    "user789",
				Timestamp: "2025-03-09T08:00:00Z",
				Latitude:  jsonnum.From("12.32"),
				Longitude: jsonnum.From("120.3"),
			},
		},
	}
}

func withdrawalRequest(amount string) *TransactionRequest {
	req := quietRequest()
	req.TransactionType = TypeWithdrawal
	req.WithdrawalData = &withdrawal.Context{
		CurrentWalletBalance:      jsonnum.From("1000"),
		WithdrawalAmount:          jsonnum.From(amount),
		ConversionRate:            jsonnum.From("1"),
		AvgWithdrawalFrequency14d: jsonnum.From("0"),
		Withdrawals24h:            jsonnum.From("1"),
		FailedWithdrawals24h:      jsonnum.From("0"),
	}
	return req
}
