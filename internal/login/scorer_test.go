package login

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
)

func newTestScorer() *Scorer {
	return NewScorer(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func baseContext() Context {
	return Context{
		Session: Session{
			UserID:    "user1",
			DeviceID:  "device1",
			Timestamp: "2024-03-01T12:00:00Z",
			Latitude:  jsonnum.Float(51.5074),
			Longitude: jsonnum.Float(-0.1278),
		},
		LastLogin: LastLogin{
			UserID:    "user1",
			Timestamp: "2024-03-01T10:00:00Z",
			Latitude:  jsonnum.Float(51.5074),
			Longitude: jsonnum.Float(-0.1278),
		},
	}
}

func TestScore_NormalActivity(t *testing.T) {
	s := newTestScorer()

	scores := s.Score(context.Background(), baseContext())

	require.False(t, scores.Failed())
	assert.Equal(t, 0.0, scores.ExcessiveDeviceLogins)
	assert.Equal(t, 0.0, scores.ExcessiveUniqueAccounts)
	assert.Equal(t, 0.0, scores.UnlikelyTravel)
}

func TestScore_DeviceActivity(t *testing.T) {
	s := newTestScorer()
	in := baseContext()

	for i := 0; i < 15; i++ {
		in.DeviceHistory = append(in.DeviceHistory, DeviceLogin{
			UserID:   fmt.Sprintf("user%d", i%5),
			DeviceID: "device1",
		})
	}
	// Other devices are ignored.
	for i := 0; i < 40; i++ {
		in.DeviceHistory = append(in.DeviceHistory, DeviceLogin{UserID: fmt.Sprintf("other%d", i), DeviceID: "device2"})
	}

	scores := s.Score(context.Background(), in)

	require.False(t, scores.Failed())
	assert.Equal(t, 0.5, scores.ExcessiveDeviceLogins)
	assert.Equal(t, 0.5, scores.ExcessiveUniqueAccounts)
}

func TestScore_DeviceActivitySaturates(t *testing.T) {
	s := newTestScorer()
	in := baseContext()
	for i := 0; i < 45; i++ {
		in.DeviceHistory = append(in.DeviceHistory, DeviceLogin{UserID: fmt.Sprintf("u%d", i), DeviceID: "device1"})
	}

	scores := s.Score(context.Background(), in)

	assert.Equal(t, 1.0, scores.ExcessiveDeviceLogins)
	assert.Equal(t, 1.0, scores.ExcessiveUniqueAccounts)
}

func TestScore_UnlikelyTravel(t *testing.T) {
	s := newTestScorer()
	in := baseContext()
	// London to Paris (~344 km) in one hour is ~344 km/h.
	in.LastLogin.Timestamp = "2024-03-01T11:00:00Z"
	in.LastLogin.Latitude = jsonnum.Float(48.8566)
	in.LastLogin.Longitude = jsonnum.Float(2.3522)

	scores := s.Score(context.Background(), in)

	require.False(t, scores.Failed())
	assert.InDelta(t, 344.0/1200, scores.UnlikelyTravel, 0.01)
}

func TestScore_ZeroElapsedSaturates(t *testing.T) {
	s := newTestScorer()
	in := baseContext()
	in.LastLogin.Timestamp = in.Session.Timestamp
	in.LastLogin.Latitude = jsonnum.Float(48.8566)
	in.LastLogin.Longitude = jsonnum.Float(2.3522)

	scores := s.Score(context.Background(), in)

	require.False(t, scores.Failed())
	assert.Equal(t, 1.0, scores.UnlikelyTravel)
}

func TestScore_ZeroElapsedSameLocation(t *testing.T) {
	s := newTestScorer()
	in := baseContext()
	in.LastLogin.Timestamp = in.Session.Timestamp

	scores := s.Score(context.Background(), in)

	require.False(t, scores.Failed())
	assert.Equal(t, 0.0, scores.UnlikelyTravel)
}

func TestScore_InvalidTimestamp(t *testing.T) {
	s := newTestScorer()

	for name, mutate := range map[string]func(*Context){
		"session":    func(c *Context) { c.Session.Timestamp = "yesterday" },
		"last login": func(c *Context) { c.LastLogin.Timestamp = "" },
	} {
		t.Run(name, func(t *testing.T) {
			in := baseContext()
			mutate(&in)

			scores := s.Score(context.Background(), in)

			assert.True(t, scores.Failed())
			assert.Equal(t, "Invalid timestamp format", scores.Error)

			out, err := json.Marshal(scores)
			require.NoError(t, err)
			assert.JSONEq(t, `{"error": "Invalid timestamp format"}`, string(out))
		})
	}
}

func TestScore_InvalidCoordinates(t *testing.T) {
	s := newTestScorer()

	in := baseContext()
	in.LastLogin.Latitude = jsonnum.From("north")
	scores := s.Score(context.Background(), in)
	assert.True(t, scores.Failed())
	assert.Contains(t, scores.Error, "last login coordinates")

	in = baseContext()
	in.Session.Latitude = jsonnum.Value{}
	scores = s.Score(context.Background(), in)
	assert.True(t, scores.Failed())
	assert.Contains(t, scores.Error, "session coordinates")
}

func TestScore_Bounds(t *testing.T) {
	s := newTestScorer()
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		in := Context{
			Session: Session{
				DeviceID:  "d",
				Timestamp: base.Add(time.Duration(rng.Intn(96)-48) * time.Hour).Format(time.RFC3339),
				Latitude:  jsonnum.Float(rng.Float64()*180 - 90),
				Longitude: jsonnum.Float(rng.Float64()*360 - 180),
			},
			LastLogin: LastLogin{
				Timestamp: base.Format(time.RFC3339),
				Latitude:  jsonnum.Float(rng.Float64()*180 - 90),
				Longitude: jsonnum.Float(rng.Float64()*360 - 180),
			},
		}
		for j := rng.Intn(60); j > 0; j-- {
			in.DeviceHistory = append(in.DeviceHistory, DeviceLogin{UserID: fmt.Sprint(rng.Intn(20)), DeviceID: "d"})
		}

		scores := s.Score(context.Background(), in)
		require.False(t, scores.Failed())
		for _, v := range []float64{scores.ExcessiveDeviceLogins, scores.ExcessiveUniqueAccounts, scores.UnlikelyTravel} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2024-03-01T12:00:00Z",
		"2024-03-01T12:00:00+00:00",
		"2024-03-01T14:00:00+02:00",
		"2024-03-01T12:00:00",
		"2024-03-01T12:00:00.000",
		"2024-03-01 12:00:00",
		"2024-03-01T12:00",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	for _, in := range []string{"", "not a time", "03/01/2024", "2024-13-01T00:00:00Z"} {
		_, err := ParseTimestamp(in)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, in)
	}
}

func TestContext_UnmarshalJSON(t *testing.T) {
	body := `{
		"session": {"userId": "u1", "deviceId": "d1", "timestamp": "2024-03-01T12:00:00Z", "latitude": "12.5", "longitude": 99},
		"device_history_last_3_days": [{"userId": "u2", "deviceId": "d1", "timestamp": "2024-02-29T12:00:00Z"}],
		"last_user_login": {"userId": "u1", "timestamp": "2024-03-01T11:00:00Z", "latitude": 12.5, "longitude": "99"}
	}`

	var in Context
	require.NoError(t, json.Unmarshal([]byte(body), &in))

	here, err := in.Session.Location().Parse()
	require.NoError(t, err)
	assert.Equal(t, 12.5, here.Lat)
	assert.Equal(t, 99.0, here.Lon)
	assert.Len(t, in.DeviceHistory, 1)
	assert.True(t, in.Session.HasLocation())
}
