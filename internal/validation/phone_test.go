package validation

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
		valid bool
	}{
		{
			name:  "formatted brazilian mobile",
			phone: "+55 (11) 98765-4321",
			want:  "5511987654321",
			valid: true,
		},
		{
			name:  "already digits",
			phone: "11987654321",
			want:  "11987654321",
			valid: true,
		},
		{
			name:  "letters dropped",
			phone: "tel: 1198-76x54",
			want:  "11987654",
			valid: true,
		},
		{
			name:  "too short",
			phone: "123-45",
			want:  "12345",
			valid: false,
		},
		{
			name:  "empty string",
			phone: "",
			want:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePhone(tt.phone)
			if got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.phone, got, tt.want)
			}
			if IsValidPhone(got) != tt.valid {
				t.Fatalf("IsValidPhone(%q) = %v, want %v", got, !tt.valid, tt.valid)
			}
		})
	}
}

func TestNormalizeCouponCode(t *testing.T) {
	if got := NormalizeCouponCode("  promo10 "); got != "PROMO10" {
		t.Fatalf("NormalizeCouponCode = %q, want PROMO10", got)
	}
}
