package reduction

import "fmt"

// StageError reports which working artifact failed and the stage it was
// being moved into. Err keeps its dataset error kind.
type StageError struct {
	Artifact string
	Stage    Stage
	Err      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (entering %s): %v", e.Artifact, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
