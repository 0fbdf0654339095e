package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseOpenAIHeaders(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected RateLimitInfo
	}{
		{
			name:     "empty_headers",
			headers:  map[string]string{},
			expected: RateLimitInfo{},
		},
		{
			name: "retry_after_seconds",
			headers: map[string]string{
				"Retry-After": "30",
			},
			expected: RateLimitInfo{RetryAfter: 30 * time.Second},
		},
		{
			name: "retry_after_invalid",
			headers: map[string]string{
				"Retry-After": "invalid",
			},
			expected: RateLimitInfo{},
		},
		{
			name: "token_reset_time",
			headers: map[string]string{
				"x-ratelimit-reset-tokens": "1640995200",
			},
			expected: RateLimitInfo{ResetTime: 1640995200},
		},
		{
			name: "token_reset_priority_over_request",
			headers: map[string]string{
				"x-ratelimit-reset-tokens":   "1640995200",
				"x-ratelimit-reset-requests": "1640995300",
			},
			expected: RateLimitInfo{ResetTime: 1640995200},
		},
		{
			name: "remaining_requests_and_tokens",
			headers: map[string]string{
				"x-ratelimit-remaining-requests": "50",
				"x-ratelimit-remaining-tokens":   "25000",
			},
			expected: RateLimitInfo{RequestsRemaining: 50, TokensRemaining: 25000},
		},
		{
			name: "complete_openai_headers",
			headers: map[string]string{
				"Retry-After":                    "60",
				"x-ratelimit-reset-tokens":       "1640995200",
				"x-ratelimit-remaining-requests": "50",
				"x-ratelimit-remaining-tokens":   "25000",
			},
			expected: RateLimitInfo{
				RetryAfter:        60 * time.Second,
				ResetTime:         1640995200,
				RequestsRemaining: 50,
				TokensRemaining:   25000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for key, value := range tt.headers {
				headers.Set(key, value)
			}

			result := ParseOpenAIHeaders(headers)
			if result != tt.expected {
				t.Errorf("ParseOpenAIHeaders() = %+v, want %+v", result, tt.expected)
			}
		})
	}
}
