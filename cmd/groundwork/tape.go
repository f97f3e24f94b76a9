package main

import (
	"fmt"
	"io"

	"github.com/haasonsaas/groundwork/internal/agent"
	"github.com/haasonsaas/groundwork/internal/agent/tape"
)

// tapeSession records a chat turn to a file or replays one from it.
// A nil session does neither.
type tapeSession struct {
	recordPath string
	recorder   *tape.Recorder
	replayer   *tape.Replayer
	strict     bool
}

func openTapeSession(recordPath, replayPath string, strict bool) (*tapeSession, error) {
	switch {
	case recordPath != "" && replayPath != "":
		return nil, fmt.Errorf("--record and --replay are mutually exclusive")
	case replayPath != "":
		t, err := tape.Read(replayPath)
		if err != nil {
			return nil, err
		}
		mode := tape.ReplayLoose
		if strict {
			mode = tape.ReplayStrict
		}
		return &tapeSession{replayer: tape.NewReplayer(t).WithMode(mode), strict: strict}, nil
	case recordPath != "":
		return &tapeSession{recordPath: recordPath}, nil
	case strict:
		return nil, fmt.Errorf("--strict requires --replay")
	}
	return nil, nil
}

func (s *tapeSession) replaying() bool {
	return s != nil && s.replayer != nil
}

// wrap routes the reasoner and tools through a recorder when recording.
func (s *tapeSession) wrap(reasoner agent.Reasoner, tools []agent.Tool) (agent.Reasoner, []agent.Tool) {
	if s == nil || s.recordPath == "" {
		return reasoner, tools
	}
	s.recorder = tape.NewRecorder(reasoner)
	wrapped := make([]agent.Tool, len(tools))
	for i, tool := range tools {
		wrapped[i] = s.recorder.WrapTool(tool)
	}
	return s.recorder, wrapped
}

// finish writes the recording, or reports replay drift to w. Drift fails
// the command only in strict mode.
func (s *tapeSession) finish(w io.Writer) error {
	if s == nil {
		return nil
	}
	if s.recorder != nil {
		if err := s.recorder.Tape().WriteFile(s.recordPath); err != nil {
			return err
		}
		fmt.Fprintf(w, "Tape written: %s\n", s.recordPath)
		return nil
	}
	if s.replayer == nil {
		return nil
	}
	mismatches := s.replayer.Mismatches()
	for _, m := range mismatches {
		fmt.Fprintf(w, "replay drift at step %d: %s expected %q, got %q\n", m.Step, m.Field, m.Expected, m.Actual)
	}
	if s.strict && len(mismatches) > 0 {
		return fmt.Errorf("replay diverged from tape in %d place(s)", len(mismatches))
	}
	return nil
}
