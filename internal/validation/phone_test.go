package validation

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"89991234567", "+79991234567"},
		{"79991234567", "+79991234567"},
		{"+79991234567", "+79991234567"},
		{"8 (999) 123-45-67", "+79991234567"},
		{"+7 999 123 45 67", "+79991234567"},
		{"", ""},
		{"abc", ""},
		{"+3809912345", "+3809912345"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizePhone(tt.in); got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
