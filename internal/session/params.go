package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ersozo/re-dashboard/internal/protocol"
)

var (
	ErrNoEntities      = errors.New("session: no entities selected")
	ErrUnsupportedView = errors.New("session: view has no live stream")
	ErrNoSession       = errors.New("session: no active session")
	ErrStopped         = errors.New("session: controller stopped")
)

// Params are fixed for the lifetime of one session. Changing any field other
// than the entity selection means building a new session.
type Params struct {
	EntityIDs   []string
	Range       protocol.TimeRange
	Mode        protocol.Mode
	View        protocol.ViewKind
	WorkingMode protocol.WorkingMode
}

// Validate reports the first problem with p.
func (p Params) Validate() error {
	if len(normalizeIDs(p.EntityIDs)) == 0 {
		return ErrNoEntities
	}
	if err := p.Range.Validate(); err != nil {
		return err
	}
	switch p.Mode {
	case protocol.ModeLive, protocol.ModeHistorical:
	default:
		return fmt.Errorf("session: unknown mode %q", p.Mode)
	}
	switch p.View {
	case protocol.ViewStandard, protocol.ViewHourly:
	case protocol.ViewReport:
		if p.Mode == protocol.ModeLive {
			return ErrUnsupportedView
		}
	default:
		return fmt.Errorf("session: unknown view %q", p.View)
	}
	return nil
}

// normalized returns a copy with trimmed, de-duplicated entity IDs and a
// known working mode.
func (p Params) normalized() Params {
	p.EntityIDs = normalizeIDs(p.EntityIDs)
	p.WorkingMode = p.WorkingMode.Normalize()
	return p
}

// normalizeIDs trims blanks and drops duplicates, keeping first-seen order.
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
