package main

import (
	"math/big"
	"testing"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.0001", "100000000000000"},
		{".5", "500000000000000000"},
		{"0.000000000000000001", "1"},
		{"12.34", "12340000000000000000"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got, err := ParseEther(tt.in)
		if err != nil {
			t.Fatalf("ParseEther(%q): %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseEther(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseEtherRejects(t *testing.T) {
	for _, in := range []string{"", "-1", "abc", "1.2.3", "0.0000000000000000001"} {
		if _, err := ParseEther(in); err == nil {
			t.Errorf("ParseEther(%q): expected error", in)
		}
	}
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"200000000000000", "0.0002"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
	}
	for _, tt := range tests {
		wei, _ := new(big.Int).SetString(tt.wei, 10)
		if got := FormatEther(wei); got != tt.want {
			t.Errorf("FormatEther(%s) = %s, want %s", tt.wei, got, tt.want)
		}
	}
	if got := FormatEther(nil); got != "0" {
		t.Errorf("FormatEther(nil) = %s, want 0", got)
	}
}

func TestFormatEtherFixed(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234567890000000000", 10)
	if got := FormatEtherFixed(wei, 4); got != "1.2345" {
		t.Errorf("FormatEtherFixed = %s, want 1.2345", got)
	}
	if got := FormatEtherFixed(big.NewInt(0), 4); got != "0.0000" {
		t.Errorf("FormatEtherFixed(0) = %s, want 0.0000", got)
	}
	if got := FormatEtherFixed(wei, 0); got != "1" {
		t.Errorf("FormatEtherFixed(0 places) = %s, want 1", got)
	}
}

func TestFormatEtherFixedClampsPlaces(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234567890000000000", 10)
	if got := FormatEtherFixed(wei, 30); got != "1.234567890000000000" {
		t.Errorf("FormatEtherFixed(30 places) = %s, want 1.234567890000000000", got)
	}
	if got := FormatEtherFixed(wei, -2); got != "1" {
		t.Errorf("FormatEtherFixed(-2 places) = %s, want 1", got)
	}
}
