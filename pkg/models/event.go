package models

import "time"

// ProcessingLog records one decode attempt
type ProcessingLog struct {
	ID               string    `json:"id"`
	FileName         string    `json:"fileName"`
	FileSize         int64     `json:"fileSize"`
	FileType         string    `json:"fileType"`
	ProcessingTimeMs float64   `json:"processingTime"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	Content          string    `json:"qrCodeContent,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ClientID         string    `json:"ipAddress,omitempty"`
}

// StatsSnapshot holds successful scan counts for the public counter
type StatsSnapshot struct {
	Total    int64 `json:"total"`
	Today    int64 `json:"today"`
	ThisWeek int64 `json:"thisWeek"`
}

// ProcessingSummary aggregates every recorded attempt
type ProcessingSummary struct {
	TotalProcessed        int64   `json:"totalProcessed"`
	SuccessRate           float64 `json:"successRate"`
	AverageProcessingTime float64 `json:"averageProcessingTime"`
}
