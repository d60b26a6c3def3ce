package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRequest(t *testing.T) {
	tests := []struct {
		name     string
		commands []string
		wantErr  bool
	}{
		{
			name:     "two commands",
			commands: []string{"shell getprop ro.product.model", "shell dumpsys battery"},
		},
		{
			name:     "empty batch",
			commands: []string{},
		},
		{
			name:     "command with embedded newline",
			commands: []string{"shell ls\nrm -rf /"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.commands)
			if tt.wantErr {
				if !errors.Is(err, ErrReservedByte) {
					t.Fatalf("expected ErrReservedByte, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			got, err := DecodeRequest(&buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tt.commands) {
				t.Fatalf("got %d commands, want %d", len(got), len(tt.commands))
			}
			for i := range got {
				if got[i] != tt.commands[i] {
					t.Errorf("command %d = %q, want %q", i, got[i], tt.commands[i])
				}
			}
		})
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ""},
		{"non-numeric count", "abc\nls\n"},
		{"negative count", "-1\n"},
		{"truncated command lines", "3\nls\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.payload))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestEncodeDecodeResponse(t *testing.T) {
	records := []Record{
		{ExitCode: 0, Stdout: "Pixel 7", Stderr: ""},
		{ExitCode: 1, Stdout: "", Stderr: "device offline"},
		{ExitCode: 0, Stdout: "line1\nline2", Stderr: ""},
	}

	var buf bytes.Buffer
	if err := EncodeResponse(&buf, records); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeResponse(&buf, len(records))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestEncodeDecodeResponseKeepsTrailingNewlines(t *testing.T) {
	// Real command output almost always ends in a newline; the round trip
	// must not shave it off the last record.
	records := []Record{
		{ExitCode: 1, Stdout: "", Stderr: "error: device offline\n"},
		{ExitCode: 0, Stdout: "ready\n\n", Stderr: "warning: slow link\n"},
	}

	var buf bytes.Buffer
	if err := EncodeResponse(&buf, records); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeResponse(&buf, len(records))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestEncodeResponseRejectsReservedBytes(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"record separator in stdout", Record{Stdout: "a" + RecordSep + "b"}},
		{"field separator in stderr", Record{Stderr: "x" + FieldSep}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeResponse(&buf, []Record{tt.rec})
			if !errors.Is(err, ErrReservedByte) {
				t.Fatalf("expected ErrReservedByte, got %v", err)
			}
		})
	}
}

func TestDecodeResponseCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeResponse(&buf, []Record{{ExitCode: 0}}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err := DecodeResponse(&buf, 2)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecodeResponseBadExitCode(t *testing.T) {
	payload := "ok" + FieldSep + "out" + FieldSep + "err"
	_, err := DecodeResponse(strings.NewReader(payload), 1)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
