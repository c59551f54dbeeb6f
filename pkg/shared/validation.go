package shared

import (
	"net/url"
)

// ValidateURL checks that rawURL is a well-formed absolute http(s) URL.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "url", Message: err.Error()}
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}

	if parsed.Host == "" {
		return &ValidationError{Field: "url", Message: "host is required"}
	}

	return nil
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
