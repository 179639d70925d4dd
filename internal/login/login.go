// Package login scores device sharing, account sharing and impossible travel
// from a user's login activity.
package login

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Muneeb-Masood/EC-ML/internal/geo"
	"github.com/Muneeb-Masood/EC-ML/internal/jsonnum"
)

// Session is the login that carries the current transaction.
type Session struct {
	UserID    string        `json:"userId"`
	DeviceID  string        `json:"deviceId"`
	Timestamp string        `json:"timestamp"`
	Latitude  jsonnum.Value `json:"latitude"`
	Longitude jsonnum.Value `json:"longitude"`
	IPAddress string        `json:"ip_address,omitempty"`
}

// Location returns the session coordinates as received.
func (s Session) Location() geo.RawPoint {
	return geo.RawPoint{Latitude: s.Latitude, Longitude: s.Longitude}
}

// HasLocation reports whether both coordinates were supplied.
func (s Session) HasLocation() bool {
	return s.Latitude.Present() && s.Longitude.Present()
}

// DeviceLogin is one entry of the device login history window.
type DeviceLogin struct {
	UserID    string `json:"userId"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

// LastLogin is the previous login of the same user.
type LastLogin struct {
	UserID    string        `json:"userId"`
	Timestamp string        `json:"timestamp"`
	Latitude  jsonnum.Value `json:"latitude"`
	Longitude jsonnum.Value `json:"longitude"`
}

// Location returns the last login coordinates as received.
func (l LastLogin) Location() geo.RawPoint {
	return geo.RawPoint{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Context is the login_data block of a request.
type Context struct {
	Session       Session       `json:"session"`
	DeviceHistory []DeviceLogin `json:"device_history_last_3_days"`
	LastLogin     LastLogin     `json:"last_user_login"`
}

// Scores is the login bundle. When Error is set the scores are meaningless
// and the bundle serializes as {"error": ...}.
type Scores struct {
	ExcessiveDeviceLogins   float64 `json:"excessive_logins_from_same_device_score"`
	ExcessiveUniqueAccounts float64 `json:"excessive_unique_account_logins_from_same_device_score"`
	UnlikelyTravel          float64 `json:"unlikely_travel_score"`
	Error                   string  `json:"-"`
}

// Failed reports whether the bundle carries an error instead of scores.
func (s *Scores) Failed() bool {
	return s == nil || s.Error != ""
}

func (s Scores) MarshalJSON() ([]byte, error) {
	if s.Error != "" {
		return json.Marshal(map[string]string{"error": s.Error})
	}
	type plain Scores
	return json.Marshal(plain(s))
}

// ErrInvalidTimestamp is returned by ParseTimestamp for unsupported input.
var ErrInvalidTimestamp = errors.New("invalid timestamp format")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone offset
// are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}
