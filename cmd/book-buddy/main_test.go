package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunMainRejectsExtraArgs(t *testing.T) {
	var stderr bytes.Buffer
	if code := runMain([]string{"a.mp3", "b.mp3"}, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage: book-buddy") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunMainUnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	if code := runMain([]string{"-nope"}, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
