package validation

import (
	"errors"
	"testing"
)

type sample struct {
	Name   string `json:"display_name" validate:"required,display_name,max=64"`
	Code   string `json:"invite_code" validate:"omitempty,invite_code"`
	Uses   int    `json:"uses" validate:"gte=0,lte=1000"`
	Format string `json:"format" validate:"omitempty,oneof=words random"`
}

func TestStructOK(t *testing.T) {
	v := New()
	if err := v.Struct(sample{Name: "Ana", Code: "abc123", Uses: 3, Format: "words"}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if err := v.Struct(sample{Name: "Ana"}); err != nil {
		t.Fatalf("optional fields: %v", err)
	}
}

func TestStructFieldErrors(t *testing.T) {
	v := New()
	err := v.Struct(sample{Name: "a\x00b", Code: "no spaces!", Uses: -1, Format: "emoji"})
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("err = %T %v", err, err)
	}
	for _, f := range []string{"display_name", "invite_code", "uses", "format"} {
		if _, ok := ve.Fields[f]; !ok {
			t.Fatalf("falta error para %s: %v", f, ve.Fields)
		}
	}
}

func TestValidDisplayName(t *testing.T) {
	cases := map[string]bool{"Ana": true, "  ": false, "": false, "tab\there": false, "José María": true}
	for in, want := range cases {
		if got := ValidDisplayName(in); got != want {
			t.Fatalf("ValidDisplayName(%q) = %v, want %v", in, got, want)
		}
	}
}
