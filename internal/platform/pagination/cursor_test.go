package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token != "" {
		t.Fatalf("token = %q, want empty for a zero cursor", token)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	token, err := EncodeToken(Cursor{StartAfter: []any{created.Format(time.RFC3339), "prod-42"}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAfter) != 2 {
		t.Fatalf("StartAfter = %v, want 2 values", cursor.StartAfter)
	}
	if cursor.StartAfter[1] != "prod-42" {
		t.Fatalf("StartAfter[1] = %v, want prod-42", cursor.StartAfter[1])
	}
}

func TestDecodeTokenBlank(t *testing.T) {
	cursor, err := DecodeToken("   ")
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAfter) != 0 {
		t.Fatalf("blank token should yield a zero cursor, got %v", cursor.StartAfter)
	}
}

func TestDecodeTokenGarbage(t *testing.T) {
	for _, token := range []string{"%%%not-base64%%%", "bm90LWpzb24"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("DecodeToken(%q) error = %v, want ErrInvalidPageToken", token, err)
		}
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-1, DefaultPageSize},
		{0, DefaultPageSize},
		{25, 25},
		{MaxPageSize, MaxPageSize},
		{MaxPageSize + 50, MaxPageSize},
	}
	for _, tc := range cases {
		if got := Clamp(tc.in); got != tc.want {
			t.Fatalf("Clamp(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
