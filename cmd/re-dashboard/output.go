package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/ersozo/re-dashboard/internal/snapshot"
)

type stateSource interface {
	Subscribe() (<-chan snapshot.State, func())
}

// line is one JSON-lines record: a new snapshot or a new error.
type line struct {
	Session     string                     `json:"session"`
	Version     uint64                     `json:"version"`
	PublishedAt *time.Time                 `json:"publishedAt,omitempty"`
	Units       map[string]json.RawMessage `json:"units,omitempty"`
	Aggregate   json.RawMessage            `json:"aggregate,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Final       bool                       `json:"final,omitempty"`
}

// printStates writes a line whenever the snapshot version or the error
// changes. It returns once a terminal session has been written, when the
// publisher closes, or when ctx ends.
func printStates(ctx context.Context, src stateSource, w io.Writer) error {
	updates, cancel := src.Subscribe()
	defer cancel()

	enc := json.NewEncoder(w)
	var (
		lastVersion uint64
		lastError   string
		lastSession string
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			if st.Session.ID != lastSession {
				lastSession, lastVersion, lastError = st.Session.ID, 0, ""
			}
			changed := st.Version != lastVersion || st.Error != lastError
			if !changed && !st.Terminal {
				continue
			}
			lastVersion, lastError = st.Version, st.Error

			out := line{
				Session: st.Session.ID,
				Version: st.Version,
				Error:   st.Error,
				Final:   st.Terminal,
			}
			if st.Snapshot != nil {
				at := st.Snapshot.PublishedAt
				out.PublishedAt = &at
				out.Units = st.Snapshot.PerEntity
				out.Aggregate = st.Snapshot.Aggregate
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
			if st.Terminal {
				return nil
			}
		}
	}
}
