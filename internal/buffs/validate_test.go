package buffs

import (
	"errors"
	"testing"
	"time"
)

func validBooking() Booking {
	return Booking{
		RequesterName: "Caesar",
		Title:         TitleResearch,
		Region:        "Gaul",
		StartUTC:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Source:        SourceWeb,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Booking)
		wantErr error
	}{
		{name: "valid", mutate: func(b *Booking) {}},
		{name: "region with space", mutate: func(b *Booking) { b.Region = "East Kingsland" }},
		{name: "catch-all region", mutate: func(b *Booking) { b.Region = "NA" }},
		{name: "bad title", mutate: func(b *Booking) { b.Title = "Farming" }, wantErr: ErrInvalidTitle},
		{name: "empty title", mutate: func(b *Booking) { b.Title = "" }, wantErr: ErrInvalidTitle},
		{name: "bad region", mutate: func(b *Booking) { b.Region = "Atlantis" }, wantErr: ErrInvalidRegion},
		{name: "empty requester", mutate: func(b *Booking) { b.RequesterName = "" }, wantErr: ErrInvalidRequester},
		{name: "bad source", mutate: func(b *Booking) { b.Source = "carrier-pigeon" }, wantErr: ErrInvalidSource},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b := validBooking()
			tt.mutate(&b)
			err := Validate(b)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"  Caesar  ", "Caesar"},
		{"*bold*name*", "boldname"},
		{"under_score", "underscore"},
		{"tick`er", "ticker"},
		{"pipe|name", "pipename"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
