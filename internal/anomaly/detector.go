// Package anomaly compares a login attempt against the user's recent login
// history and reports time, location, device and travel anomalies.
package anomaly

import (
	"fmt"
	"time"

	"github.com/usfnet/sentinel/internal/models"
)

// Finding kinds produced by the login checks.
const (
	KindTimeAnomaly      = "time_anomaly"
	KindUnusualLocation  = "unusual_location"
	KindDeviceChange     = "device_change"
	KindImpossibleTravel = "impossible_travel"
)

// Check selects one of the login checks.
type Check string

const (
	CheckTime     Check = "time"
	CheckLocation Check = "location"
	CheckDevice   Check = "device"
	CheckTravel   Check = "travel"
)

// AllChecks is every check in evaluation order.
var AllChecks = []Check{CheckTime, CheckLocation, CheckDevice, CheckTravel}

// Config holds the detector thresholds.
type Config struct {
	// MinHourHistory is the history length that must be exceeded before the
	// hour-of-day check applies.
	MinHourHistory int
	// TravelWindow is the gap under which a location change between two
	// consecutive logins is treated as impossible travel.
	TravelWindow time.Duration
	// Lookback bounds the history window the caller should load.
	Lookback time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinHourHistory: 5,
		TravelWindow:   time.Hour,
		Lookback:       30 * 24 * time.Hour,
	}
}

// Detector evaluates login events. It is stateless and safe for
// concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Lookback returns the history span the detector expects to be given.
func (d *Detector) Lookback() time.Duration {
	return d.cfg.Lookback
}

// Evaluate runs the selected checks (all of them when none are given) for
// current against window and returns the findings in check order. The
// window is not modified.
func (d *Detector) Evaluate(userID string, current models.LoginEvent, window models.HistoricalWindow, checks ...Check) []models.Finding {
	if len(checks) == 0 {
		checks = AllChecks
	}
	enabled := make(map[Check]bool, len(checks))
	for _, c := range checks {
		enabled[c] = true
	}

	findings := []models.Finding{}
	for _, c := range AllChecks {
		if !enabled[c] {
			continue
		}
		var f *models.Finding
		switch c {
		case CheckTime:
			f = d.checkTime(current, window)
		case CheckLocation:
			f = d.checkLocation(current, window)
		case CheckDevice:
			f = d.checkDevice(current, window)
		case CheckTravel:
			f = d.checkTravel(current, window)
		}
		if f != nil {
			f.Details["user_id"] = userID
			findings = append(findings, *f)
		}
	}
	return findings
}

func (d *Detector) checkTime(current models.LoginEvent, window models.HistoricalWindow) *models.Finding {
	if len(window) <= d.cfg.MinHourHistory {
		return nil
	}
	hour := current.Timestamp.UTC().Hour()
	for _, e := range window {
		if e.Timestamp.UTC().Hour() == hour {
			return nil
		}
	}
	return &models.Finding{
		Kind:     KindTimeAnomaly,
		Severity: models.SeverityMedium,
		Message:  fmt.Sprintf("Login at unusual hour (%02d:00 UTC)", hour),
		Details:  map[string]interface{}{"hour": hour, "history_size": len(window)},
	}
}

func (d *Detector) checkLocation(current models.LoginEvent, window models.HistoricalWindow) *models.Finding {
	if current.Location == "" || len(window) == 0 {
		return nil
	}
	for _, e := range window {
		if e.Location == current.Location {
			return nil
		}
	}
	return &models.Finding{
		Kind:     KindUnusualLocation,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("Login from new location: %s", current.Location),
		Details:  map[string]interface{}{"location": current.Location},
	}
}

func (d *Detector) checkDevice(current models.LoginEvent, window models.HistoricalWindow) *models.Finding {
	if current.UserAgent == "" || len(window) == 0 {
		return nil
	}
	for _, e := range window {
		if e.UserAgent == current.UserAgent {
			return nil
		}
	}
	return &models.Finding{
		Kind:     KindDeviceChange,
		Severity: models.SeverityMedium,
		Message:  "Login from new device",
		Details:  map[string]interface{}{"user_agent": current.UserAgent},
	}
}

func (d *Detector) checkTravel(current models.LoginEvent, window models.HistoricalWindow) *models.Finding {
	if current.Location == "" || len(window) == 0 {
		return nil
	}
	last := window[0]
	for _, e := range window[1:] {
		if e.Timestamp.After(last.Timestamp) {
			last = e
		}
	}
	if last.Location == "" || last.Location == current.Location {
		return nil
	}
	elapsed := current.Timestamp.Sub(last.Timestamp)
	if elapsed < 0 || elapsed >= d.cfg.TravelWindow {
		return nil
	}
	return &models.Finding{
		Kind:      KindImpossibleTravel,
		Severity:  models.SeverityHigh,
		Message:   fmt.Sprintf("Impossible travel: %s to %s in %s", last.Location, current.Location, elapsed.Round(time.Minute)),
		AutoBlock: true,
		Details: map[string]interface{}{
			"from":            last.Location,
			"to":              current.Location,
			"elapsed_minutes": int(elapsed.Minutes()),
		},
	}
}
