package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAddressChecksum(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, v := range vectors {
		a, err := ParseAddress(v)
		if err != nil {
			t.Fatalf("ParseAddress(%s): %v", v, err)
		}
		if got := a.String(); got != v {
			t.Errorf("String() = %s, want %s", got, v)
		}

		lower, err := ParseAddress(strings.ToLower(v))
		if err != nil {
			t.Fatalf("ParseAddress(lower %s): %v", v, err)
		}
		if lower != a {
			t.Errorf("lower-case form of %s decoded differently", v)
		}
	}
}

func TestParseAddressRejects(t *testing.T) {
	tests := map[string]string{
		"no prefix":    "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"too short":    "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA",
		"not hex":      "0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"bad checksum": "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"empty":        "",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseAddress(in); err == nil {
				t.Fatalf("expected error for %q", in)
			}
		})
	}
}

func TestAddressJSON(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Fatal("zero value should be zero")
	}

	type wrapper struct {
		Owner Address `json:"owner,omitzero"`
	}
	data, err := json.Marshal(wrapper{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Fatalf("expected zero owner to be omitted, got %s", data)
	}

	data, err = json.Marshal(wrapper{Owner: alice})
	if err != nil {
		t.Fatal(err)
	}
	var back wrapper
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Owner != alice {
		t.Fatalf("expected %s, got %s", alice, back.Owner)
	}
}
