package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usfnet/sentinel/internal/models"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func login(at time.Time, location, agent string) models.LoginEvent {
	return models.LoginEvent{UserID: "u1", Timestamp: at, Location: location, UserAgent: agent, NetworkAddress: "10.0.0.1"}
}

func kinds(findings []models.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func TestEvaluate_ImpossibleTravel(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{login(base, "Paris", "Firefox")}
	current := login(base.Add(10*time.Minute), "Tokyo", "Firefox")

	findings := d.Evaluate("u1", current, window)

	assert.Equal(t, []string{KindUnusualLocation, KindImpossibleTravel}, kinds(findings))
	travel := findings[1]
	assert.True(t, travel.AutoBlock)
	assert.Equal(t, models.SeverityHigh, travel.Severity)
	assert.Equal(t, "Paris", travel.Details["from"])
	assert.Equal(t, "Tokyo", travel.Details["to"])
}

func TestEvaluate_SameLocationWithinHour(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{login(base, "Paris", "Firefox")}
	current := login(base.Add(10*time.Minute), "Paris", "Firefox")

	assert.Empty(t, d.Evaluate("u1", current, window))
}

func TestEvaluate_TravelWindowBoundary(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{login(base, "Paris", "Firefox")}

	justInside := d.Evaluate("u1", login(base.Add(59*time.Minute), "Tokyo", "Firefox"), window, CheckTravel)
	assert.Equal(t, []string{KindImpossibleTravel}, kinds(justInside))

	atWindow := d.Evaluate("u1", login(base.Add(time.Hour), "Tokyo", "Firefox"), window, CheckTravel)
	assert.Empty(t, atWindow)
}

func TestEvaluate_TravelUsesMostRecentLogin(t *testing.T) {
	d := NewDetector(DefaultConfig())
	// Out of order on purpose: the Nairobi login is the latest.
	window := models.HistoricalWindow{
		login(base.Add(-5*time.Minute), "Nairobi", "Firefox"),
		login(base.Add(-2*time.Hour), "Tokyo", "Firefox"),
	}
	current := login(base, "Tokyo", "Firefox")

	findings := d.Evaluate("u1", current, window, CheckTravel)
	require.Len(t, findings, 1)
	assert.Equal(t, "Nairobi", findings[0].Details["from"])
}

func TestEvaluate_TravelIgnoresEmptyLocations(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{login(base, "", "Firefox")}

	assert.Empty(t, d.Evaluate("u1", login(base.Add(time.Minute), "Tokyo", "Firefox"), window, CheckTravel))
	assert.Empty(t, d.Evaluate("u1", login(base.Add(time.Minute), "", "Firefox"), models.HistoricalWindow{login(base, "Paris", "Firefox")}, CheckTravel))
}

func TestEvaluate_TimeAnomalyRequiresHistory(t *testing.T) {
	d := NewDetector(DefaultConfig())

	short := models.HistoricalWindow{login(base, "Paris", "Firefox")}
	assert.Empty(t, d.Evaluate("u1", login(base.Add(5*time.Hour), "Paris", "Firefox"), short, CheckTime),
		"one past login must never produce a time anomaly")

	var five models.HistoricalWindow
	for i := 0; i < 5; i++ {
		five = append(five, login(base.Add(-time.Duration(i+1)*24*time.Hour), "Paris", "Firefox"))
	}
	assert.Empty(t, d.Evaluate("u1", login(base.Add(5*time.Hour), "Paris", "Firefox"), five, CheckTime),
		"exactly five past logins is not enough")

	six := append(five, login(base.Add(-6*24*time.Hour), "Paris", "Firefox"))
	findings := d.Evaluate("u1", login(base.Add(5*time.Hour), "Paris", "Firefox"), six, CheckTime)
	require.Len(t, findings, 1)
	assert.Equal(t, KindTimeAnomaly, findings[0].Kind)
	assert.Equal(t, 14, findings[0].Details["hour"])

	assert.Empty(t, d.Evaluate("u1", login(base.Add(24*time.Hour), "Paris", "Firefox"), six, CheckTime),
		"an hour already seen is not anomalous")
}

func TestEvaluate_LocationAndDevice(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{
		login(base.Add(-48*time.Hour), "Lagos", "Chrome"),
		login(base.Add(-24*time.Hour), "Accra", "Chrome"),
	}

	tests := []struct {
		name    string
		current models.LoginEvent
		want    []string
	}{
		{"known location and device", login(base, "Accra", "Chrome"), []string{}},
		{"new location", login(base, "Dakar", "Chrome"), []string{KindUnusualLocation}},
		{"new device", login(base, "Lagos", "Safari"), []string{KindDeviceChange}},
		{"both new", login(base, "Dakar", "Safari"), []string{KindUnusualLocation, KindDeviceChange}},
		{"empty location skipped", login(base, "", "Chrome"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Evaluate("u1", tt.current, window, CheckLocation, CheckDevice)
			assert.Equal(t, tt.want, kinds(got))
		})
	}
}

func TestEvaluate_EmptyHistory(t *testing.T) {
	d := NewDetector(DefaultConfig())
	assert.Empty(t, d.Evaluate("u1", login(base, "Paris", "Firefox"), nil))
}

func TestEvaluate_CheckSelection(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{login(base, "Paris", "Firefox")}
	current := login(base.Add(10*time.Minute), "Tokyo", "Chrome")

	assert.Equal(t, []string{KindDeviceChange}, kinds(d.Evaluate("u1", current, window, CheckDevice)))
	assert.Equal(t, []string{KindUnusualLocation, KindImpossibleTravel},
		kinds(d.Evaluate("u1", current, window, CheckTravel, CheckLocation)), "output follows check order, not argument order")
}

func TestEvaluate_DoesNotMutateWindow(t *testing.T) {
	d := NewDetector(DefaultConfig())
	window := models.HistoricalWindow{
		login(base.Add(-time.Hour), "Paris", "Firefox"),
		login(base.Add(-2*time.Hour), "Lyon", "Firefox"),
	}
	snapshot := append(models.HistoricalWindow(nil), window...)

	d.Evaluate("u1", login(base, "Tokyo", "Chrome"), window)

	assert.Equal(t, snapshot, window)
}
