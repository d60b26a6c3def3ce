package batch

import (
	"context"
	"fmt"
	"io"

	"github.com/mattjoyce/muster/internal/wire"
)

// RunHost services one wire-envelope batch: it decodes a request from r,
// executes every command line on the host, and writes the response to w.
// This is the callee side of the boundary the RemoteExecutor talks to.
func RunHost(ctx context.Context, r io.Reader, w io.Writer, exec *Executor) error {
	lines, err := wire.DecodeRequest(r)
	if err != nil {
		return fmt.Errorf("decode batch request: %w", err)
	}

	commands := make([]Command, len(lines))
	for i, line := range lines {
		commands[i] = Command{Text: line}
	}

	results, err := exec.Execute(ctx, commands)
	if err != nil {
		return err
	}

	records := make([]wire.Record, len(results))
	for i, res := range results {
		records[i] = toRecord(res)
	}
	return wire.EncodeResponse(w, records)
}

// toRecord maps a result onto the envelope. Output containing a reserved
// separator byte is not representable; such a command is reported as failed
// with an explanatory stderr instead of corrupting neighbouring records.
func toRecord(res Result) wire.Record {
	rec := wire.Record{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if res.Outcome != OutcomeSuccess && res.Outcome != OutcomeFailed {
		rec.Stderr = res.Detail
		if rec.ExitCode == 0 {
			rec.ExitCode = -1
		}
	}
	if wire.CheckEncodable(rec.Stdout) != nil || wire.CheckEncodable(rec.Stderr) != nil {
		return wire.Record{
			ExitCode: -1,
			Stderr:   "command output is not representable in the batch envelope (reserved separator byte)",
		}
	}
	return rec
}
