//go:build !windows

package ipc

import (
	"errors"
	"testing"
)

func TestFileURLToPath(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "file:///src/app.mjs", want: "/src/app.mjs"},
		{name: "localhost", input: "file://localhost/src/app.mjs", want: "/src/app.mjs"},
		{name: "escaped", input: "file:///src/my%20app.mjs", want: "/src/my app.mjs"},
		{name: "remote host", input: "file://example.com/src/app.mjs", wantErr: true},
		{name: "encoded slash", input: "file:///src%2Fapp.mjs", wantErr: true},
		{name: "http", input: "https://example.com/app.mjs", wantErr: true},
		{name: "node builtin", input: "node:fs", wantErr: true},
	}

	for _, testCase := range cases {
		got, err := FileURLToPath(testCase.input)
		if testCase.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %q", testCase.name, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", testCase.name, err)
		}
		if got != testCase.want {
			t.Fatalf("%s: expected %q, got %q", testCase.name, testCase.want, got)
		}
	}
}

func TestFileURLToPathRejectsOtherSchemes(t *testing.T) {
	if _, err := FileURLToPath("data:text/javascript,1"); !errors.Is(err, ErrNotFileURL) {
		t.Fatalf("expected ErrNotFileURL, got %v", err)
	}
}
