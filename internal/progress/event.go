package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StagePageDone Stage = "PAGE_DONE"
)

// Outcome records how a page ended up on disk, if at all.
type Outcome string

// Supported page outcomes.
const (
	OutcomeMarkdown Outcome = "markdown"
	OutcomeRawHTML  Outcome = "raw_html"
	OutcomeFailed   Outcome = "failed"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// RunID identifies the harvest run the event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// Domain is the harvested domain.
	Domain string
	// URL is the page URL for page events.
	URL string
	// Outcome classifies page completions.
	Outcome Outcome
	// Bytes carries the size of the persisted document.
	Bytes int64
	// Dur captures execution latency for pages and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
		if e.Outcome == "" {
			return errors.New("page done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
