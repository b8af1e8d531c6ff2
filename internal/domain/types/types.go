// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank      int    `json:"rank"`
	AthleteID string `json:"athlete_id"`
	Name      string `json:"name,omitempty"`
	Rating    int    `json:"rating"`
}
