// internal/workers/assistant/chat/models.go
package assistantchat

import "construction-estimator/internal/models"

type Input struct {
	History []models.ChatMessage `json:"history"`
	Message string               `json:"message"`
}

type Output struct {
	Reply string `json:"reply"`
}
