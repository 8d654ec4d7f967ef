package service

import (
	"fmt"
	"math"
	"time"

	"detention/internal/domain"
)

// Every figure is recomputed from ArrivalTime on each call. Nothing is
// accumulated, so suspension and clock changes converge to the same answer.

// ElapsedSeconds returns whole seconds since arrival, or 0 when idle.
func ElapsedSeconds(d domain.ActiveDetention, now time.Time) int64 {
	if !d.IsTracking || d.ArrivalTime == nil {
		return 0
	}
	return wholeSeconds(now.Sub(*d.ArrivalTime))
}

// GraceDeadline returns arrival plus the grace period. ok is false when idle.
func GraceDeadline(d domain.ActiveDetention) (deadline time.Time, ok bool) {
	if !d.IsTracking || d.ArrivalTime == nil {
		return time.Time{}, false
	}
	return d.ArrivalTime.Add(time.Duration(d.GracePeriodMinutes) * time.Minute), true
}

// InGracePeriod reports whether now is before the grace deadline.
func InGracePeriod(d domain.ActiveDetention, now time.Time) bool {
	deadline, ok := GraceDeadline(d)
	if !ok {
		return false
	}
	return now.Before(deadline)
}

// DetentionSeconds returns billable whole seconds past the grace deadline.
func DetentionSeconds(d domain.ActiveDetention, now time.Time) int64 {
	deadline, ok := GraceDeadline(d)
	if !ok || now.Before(deadline) {
		return 0
	}
	return wholeSeconds(now.Sub(deadline))
}

// Earnings returns hourlyRate * detentionSeconds / 3600, unrounded.
func Earnings(d domain.ActiveDetention, now time.Time) float64 {
	secs := DetentionSeconds(d, now)
	if secs <= 0 {
		return 0
	}
	return d.HourlyRate * float64(secs) / 3600
}

// Live bundles the derived figures for one instant.
func Live(d domain.ActiveDetention, now time.Time) domain.LiveStatus {
	status := domain.LiveStatus{
		IsTracking:       d.IsTracking,
		ElapsedSeconds:   ElapsedSeconds(d, now),
		DetentionSeconds: DetentionSeconds(d, now),
		Earnings:         Earnings(d, now),
		InGracePeriod:    InGracePeriod(d, now),
		At:               now,
	}
	if deadline, ok := GraceDeadline(d); ok {
		status.GraceDeadline = &deadline
	}
	return status
}

// FormatDuration renders seconds as HH:MM:SS. Hours are not capped at 24.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// FormatCurrency renders an amount in dollars, rounded down to the cent.
func FormatCurrency(amount float64) string {
	if amount <= 0 {
		return "$0.00"
	}
	// The epsilon absorbs binary representation error such as 0.29*100.
	cents := math.Floor(amount*100 + 1e-9)
	return fmt.Sprintf("$%.2f", cents/100)
}

// wholeSeconds floors d to seconds, clamping negative spans to zero.
func wholeSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
