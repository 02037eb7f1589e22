// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Thing: {
	name:  string & =~"^[a-z]+$"
	port?: int & >0 & <65536
}
`

type thing struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	res, err := ParseAndDecode[thing]([]byte(testSchema), []byte(`name: "web", port: 8000`), "#Thing")
	if err != nil {
		t.Fatalf("ParseAndDecode() error = %v", err)
	}
	if res.Value.Name != "web" || res.Value.Port != 8000 {
		t.Errorf("decoded %+v", *res.Value)
	}
}

func TestParseAndDecode_SchemaViolation(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecode[thing]([]byte(testSchema), []byte(`name: "web", port: 0`), "#Thing",
		WithFilename("imagewright.cue"))
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "imagewright.cue") || !strings.Contains(err.Error(), "port") {
		t.Errorf("error should name the file and field, got %v", err)
	}
}

func TestParseAndDecode_SyntaxError(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecode[thing]([]byte(testSchema), []byte(`name: "web`), "#Thing")
	if err == nil {
		t.Fatal("expected a syntax error")
	}
}

func TestParseAndDecode_FileTooLarge(t *testing.T) {
	t.Parallel()

	_, err := ParseAndDecode[thing]([]byte(testSchema), []byte(`name: "abc"`), "#Thing", WithMaxFileSize(4))
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x.cue") != nil {
		t.Error("FormatError(nil) should be nil")
	}

	err := FormatError(errors.New("some error"), "x.cue")
	if err == nil || !strings.Contains(err.Error(), "x.cue: some error") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path []string
		want string
	}{
		{nil, ""},
		{[]string{"name"}, "name"},
		{[]string{"env", "0", "name"}, "env[0].name"},
		{[]string{"launch", "port"}, "launch.port"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.path); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
