package utils

import (
	"testing"
)

func TestValidateServiceURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid HTTPS URL",
			url:     "https://shop.example.com",
			wantErr: false,
		},
		{
			name:    "valid HTTPS URL with path",
			url:     "https://shop.example.com/api",
			wantErr: false,
		},
		{
			name:    "invalid HTTP URL",
			url:     "http://shop.example.com",
			wantErr: true,
		},
		{
			name:    "valid localhost for testing",
			url:     "http://localhost:8080",
			wantErr: false,
		},
		{
			name:    "valid 127.0.0.1 for testing",
			url:     "http://127.0.0.1:8080",
			wantErr: false,
		},
		{
			name:    "valid IPv6 localhost for testing",
			url:     "http://[::1]:8080",
			wantErr: false,
		},
		{
			name:    "empty URL",
			url:     "",
			wantErr: true,
		},
		{
			name:    "invalid scheme",
			url:     "ftp://shop.example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
