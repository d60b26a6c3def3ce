// Package wire implements the batch envelope spoken across the exec-host
// process boundary.
//
// Request: a decimal count line followed by exactly that many command lines.
// Response: one record per command, records joined by the record separator
// (0x1E); within a record, exit code, stdout and stderr are joined by the
// field separator (0x1F).
//
// The separators are reserved bytes. Content containing them is not
// representable in this envelope, so encoding rejects it with ErrReservedByte
// instead of corrupting adjacent records.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// RecordSep delimits per-command records in a response.
	RecordSep = "\x1e"
	// FieldSep delimits exit code, stdout and stderr within a record.
	FieldSep = "\x1f"
)

var (
	// ErrReservedByte reports content that cannot be carried by the envelope.
	ErrReservedByte = fmt.Errorf("content contains a reserved separator byte")
	// ErrMalformedPayload reports an undecodable envelope.
	ErrMalformedPayload = fmt.Errorf("malformed wire payload")
)

// Record is one command's outcome on the wire.
type Record struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CheckEncodable returns ErrReservedByte if s contains either separator.
func CheckEncodable(s string) error {
	if strings.ContainsAny(s, RecordSep+FieldSep) {
		return ErrReservedByte
	}
	return nil
}

// EncodeRequest writes a count header and one command per line. Commands must
// be single lines; embedded newlines would shift every following command.
func EncodeRequest(w io.Writer, commands []string) error {
	for i, cmd := range commands {
		if strings.ContainsRune(cmd, '\n') {
			return fmt.Errorf("command %d: embedded newline: %w", i, ErrReservedByte)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n", len(commands))
	for _, cmd := range commands {
		b.WriteString(cmd)
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// DecodeRequest reads a count header and that many command lines.
func DecodeRequest(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, fmt.Errorf("missing command count header: %w", ErrMalformedPayload)
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid command count %q: %w", scanner.Text(), ErrMalformedPayload)
	}

	commands := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("expected %d command lines, got %d: %w", count, i, ErrMalformedPayload)
		}
		commands = append(commands, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return commands, nil
}

// EncodeResponse writes records in submission order. Any field containing a
// reserved byte fails the whole encode; callers substitute an error record
// for that command before retrying.
func EncodeResponse(w io.Writer, records []Record) error {
	parts := make([]string, 0, len(records))
	for i, rec := range records {
		if err := CheckEncodable(rec.Stdout); err != nil {
			return fmt.Errorf("record %d stdout: %w", i, err)
		}
		if err := CheckEncodable(rec.Stderr); err != nil {
			return fmt.Errorf("record %d stderr: %w", i, err)
		}
		parts = append(parts, strings.Join([]string{
			strconv.Itoa(rec.ExitCode), rec.Stdout, rec.Stderr,
		}, FieldSep))
	}
	if _, err := io.WriteString(w, strings.Join(parts, RecordSep)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// DecodeResponse parses a response and verifies it carries exactly want
// records, one per submitted command. Fields are carried byte-exact: there is
// no framing outside the separators, so trailing newlines belong to the last
// record's stderr and must survive the round trip.
func DecodeResponse(r io.Reader, want int) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 && want == 0 {
		return nil, nil
	}

	raw := strings.Split(string(data), RecordSep)
	if len(raw) != want {
		return nil, fmt.Errorf("expected %d records, got %d: %w", want, len(raw), ErrMalformedPayload)
	}

	records := make([]Record, 0, want)
	for i, part := range raw {
		fields := strings.SplitN(part, FieldSep, 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("record %d has %d fields, want 3: %w", i, len(fields), ErrMalformedPayload)
		}
		code, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("record %d exit code %q: %w", i, fields[0], ErrMalformedPayload)
		}
		records = append(records, Record{ExitCode: code, Stdout: fields[1], Stderr: fields[2]})
	}
	return records, nil
}
