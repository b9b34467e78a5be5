package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestEchoLines(t *testing.T) {
	var out bytes.Buffer
	if err := echoLines(&out, strings.NewReader("T=21.5\nP=1003.2\r\nlast")); err != nil {
		t.Fatal(err)
	}
	if want := "T=21.5\r\nP=1003.2\r\nlast\r\n"; out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
