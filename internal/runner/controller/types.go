package controller

// SubmitRequest is the body of a submission.
type SubmitRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}

// LanguagesResponse lists the accepted language tags.
type LanguagesResponse struct {
	Languages []string `json:"languages"`
}

// compatError is the error body of the unwrapped endpoints.
type compatError struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}
