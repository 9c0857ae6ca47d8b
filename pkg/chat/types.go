package chat

import "encoding/json"

// Status is the answer of GET /api/status.
type Status struct {
	APIConfigured bool   `json:"api_configured"`
	Status        string `json:"status,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	DataConsent   bool   `json:"data_consent"`
}

// Reply is the answer of POST /api/chat.
type Reply struct {
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp,omitempty"`
	CrisisAlert bool   `json:"crisis_alert,omitempty"`

	// Emotion is the backend's emotion analysis, passed through as is.
	Emotion json.RawMessage `json:"emotion,omitempty"`

	MeditationSuggestion *MeditationSuggestion `json:"meditation_suggestion,omitempty"`
}

// MeditationSuggestion is a meditation recommended for the current mood.
type MeditationSuggestion struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Guide       string `json:"guide,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

// Meditation is the answer of GET /api/meditation/daily.
type Meditation struct {
	Title string `json:"title"`
	Quote string `json:"quote"`
	Guide string `json:"guide"`
}

// SessionSummary is the answer of GET /api/session/summary.
type SessionSummary struct {
	Summary               Summary               `json:"session_summary"`
	RecommendedMeditation *MeditationSuggestion `json:"recommended_meditation,omitempty"`
	SessionID             string                `json:"session_id,omitempty"`
}

// Summary aggregates the emotions of a chat session.
type Summary struct {
	TotalMessages   int    `json:"total_messages"`
	DominantEmotion string `json:"dominant_emotion"`
	OverallValence  string `json:"overall_valence"`
}

type chatRequest struct {
	Message string `json:"message"`
	History []Turn `json:"history"`
	UserID  string `json:"user_id"`
}

type setupRequest struct {
	APIKey string `json:"api_key"`
}

type consentRequest struct {
	Consent bool `json:"consent"`
}

type consentResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}
