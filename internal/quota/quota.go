// Package quota models the server's usage-quota snapshot and parses it
// from the wire format.
package quota

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MaxResetMillis is the sentinel reset timestamp for quotas that never
// reset: the largest epoch-millisecond value the server's own clients
// can represent. "infinite" and absent reset times map here.
const MaxResetMillis int64 = 8_640_000_000_000_000

// infiniteSentinel is the literal the server sends for quotas without a
// reset schedule.
const infiniteSentinel = "infinite"

// fallbackResetDelay is assumed when a reset timestamp is present but
// unparsable; a bad timestamp must not fail the whole snapshot.
const fallbackResetDelay = 24 * time.Hour

// NeverResets is the sentinel reset time as a time.Time.
func NeverResets() time.Time {
	return time.UnixMilli(MaxResetMillis).UTC()
}

// ModelQuota is the parsed per-model quota state.
type ModelQuota struct {
	ID                string    `json:"id" yaml:"id"`
	Label             string    `json:"label" yaml:"label"`
	RemainingFraction float64   `json:"remaining_fraction" yaml:"remaining_fraction"`
	FractionPresent   bool      `json:"fraction_present" yaml:"fraction_present"`
	IsExhausted       bool      `json:"is_exhausted" yaml:"is_exhausted"`
	ResetAt           time.Time `json:"reset_at" yaml:"reset_at"`
	Percentage        int       `json:"percentage" yaml:"percentage"`
	RemainingDisplay  string    `json:"remaining_display" yaml:"remaining_display"`
}

// TimeUntilResetMillis returns milliseconds until this quota resets,
// measured from now. For never-resetting quotas the result is on the
// order of MaxResetMillis.
func (q ModelQuota) TimeUntilResetMillis(now time.Time) int64 {
	return q.ResetAt.UnixMilli() - now.UnixMilli()
}

// ResetsEventually reports whether the quota has a real reset schedule.
func (q ModelQuota) ResetsEventually() bool {
	return q.ResetAt.UnixMilli() < MaxResetMillis
}

// Snapshot is one successfully parsed quota response. Consumers only
// ever see the latest snapshot; no history is retained by the core.
type Snapshot struct {
	TakenAt time.Time    `json:"taken_at" yaml:"taken_at"`
	Plan    string       `json:"plan,omitempty" yaml:"plan,omitempty"`
	Models  []ModelQuota `json:"models" yaml:"models"`
}

// AppError is a well-formed response carrying a non-OK application
// status code inside an HTTP 200.
type AppError struct {
	Code    string
	Message string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status code %s", e.Code)
	}
	return fmt.Sprintf("server returned status %s: %s", e.Code, e.Message)
}

// Wire shapes. The status code arrives as either a number or a string
// depending on server version, so it decodes as a bare JSON value.
type wireResponse struct {
	State    *wireState  `json:"state"`
	PlanName string      `json:"planName"`
	Quotas   []wireQuota `json:"quotas"`
}

type wireState struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

type wireQuota struct {
	ModelID           string   `json:"modelId"`
	DisplayName       string   `json:"displayName"`
	RemainingFraction *float64 `json:"remainingFraction"`
	ResetTime         string   `json:"resetTime"`
}

// okCodes is the whitelist of equivalent truthy status representations.
var okCodes = map[string]struct{}{
	"0": {}, "OK": {}, "ok": {}, "success": {}, "SUCCESS": {},
}

// statusOK normalizes the raw code value against the whitelist.
func statusOK(raw json.RawMessage) (ok bool, code string) {
	if len(raw) == 0 {
		return true, ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		_, ok = okCodes[asString]
		return ok, asString
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber == 0, fmt.Sprintf("%v", asNumber)
	}
	return false, string(raw)
}

// ParseSnapshot parses a quota response body. Malformed JSON and a
// non-OK embedded status are both fetch failures; per-model oddities
// (missing fractions, bad timestamps) degrade per model instead.
func ParseSnapshot(data []byte, now time.Time) (*Snapshot, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("malformed quota response: %w", err)
	}
	if wire.State != nil {
		if ok, code := statusOK(wire.State.Code); !ok {
			return nil, &AppError{Code: code, Message: wire.State.Message}
		}
	}

	snap := &Snapshot{
		TakenAt: now,
		Plan:    wire.PlanName,
		Models:  make([]ModelQuota, 0, len(wire.Quotas)),
	}
	for _, wq := range wire.Quotas {
		snap.Models = append(snap.Models, parseModel(wq, now))
	}
	return snap, nil
}

func parseModel(wq wireQuota, now time.Time) ModelQuota {
	q := ModelQuota{
		ID:    wq.ModelID,
		Label: wq.DisplayName,
	}
	if q.Label == "" {
		q.Label = q.ID
	}

	if wq.RemainingFraction != nil {
		q.FractionPresent = true
		q.RemainingFraction = *wq.RemainingFraction
	}
	// Absent or zero remaining means exhausted. The server omits the
	// field for spent quotas rather than sending an explicit zero.
	q.IsExhausted = !q.FractionPresent || q.RemainingFraction <= 0

	q.ResetAt = parseResetTime(wq.ResetTime, now)

	if q.IsExhausted {
		q.Percentage = 0
		q.RemainingDisplay = "exhausted"
	} else {
		q.Percentage = int(math.Round(q.RemainingFraction * 100))
		q.RemainingDisplay = fmt.Sprintf("%d%% left", q.Percentage)
	}
	return q
}

func parseResetTime(s string, now time.Time) time.Time {
	if s == "" || s == infiniteSentinel {
		return NeverResets()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return now.Add(fallbackResetDelay).UTC()
}
