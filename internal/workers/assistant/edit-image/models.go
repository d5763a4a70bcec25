// internal/workers/assistant/edit-image/models.go
package editimage

type Input struct {
	Image       string `json:"image"`
	MimeType    string `json:"mimeType"`
	Instruction string `json:"instruction"`
}

type Output struct {
	Image     string `json:"image"`
	Supported bool   `json:"supported"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}
