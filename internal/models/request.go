package models

type GenerateStoryRequest struct {
	ChildID string `json:"childId"`
	Theme   string `json:"theme"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Message    string `json:"message,omitempty"`
}
