package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/kbukum/runflow/errors"
	"github.com/kbukum/runflow/process"
)

// Noop succeeds with an empty output.
func Noop(ctx context.Context, _ Input) ([]byte, error) {
	return nil, ctx.Err()
}

// Exec runs Args as a subprocess. Stdout becomes the step output and a
// non-zero exit fails the step. Upstream outputs are written to stdin as a
// JSON object keyed by step id.
func Exec(ctx context.Context, in Input) ([]byte, error) {
	if len(in.Args) == 0 {
		return nil, errors.InvalidInput("args", "exec needs a command in args")
	}
	cmd := process.Command{
		Binary: in.Args[0],
		Args:   in.Args[1:],
		Env: []string{
			"RUNFLOW_RUN_ID=" + in.RunID,
			"RUNFLOW_STEP_ID=" + in.StepID,
			"RUNFLOW_ATTEMPT=" + strconv.Itoa(in.Attempt),
		},
	}
	if len(in.Upstream) > 0 {
		upstream := make(map[string]json.RawMessage, len(in.Upstream))
		for id, out := range in.Upstream {
			if json.Valid(out) {
				upstream[id] = out
			} else {
				upstream[id], _ = json.Marshal(string(out))
			}
		}
		payload, err := json.Marshal(upstream)
		if err != nil {
			return nil, err
		}
		cmd.Stdin = bytes.NewReader(payload)
	}

	res, err := process.Run(ctx, cmd)
	if err != nil {
		var out []byte
		if res != nil {
			out = res.Stdout
		}
		return out, err
	}
	return res.Stdout, nil
}
