package syncer

import (
	"fmt"

	"github.com/pashudhan/fieldsync/internal/client/models"
)

type Side int

const (
	SideLocal Side = iota
	SideRemote
	SideMerged
)

// Decision is the outcome of a conflict resolution. Merged is used only
// with SideMerged.
type Decision struct {
	Side   Side
	Merged models.Content
}

// Resolver decides a parked conflict. The engine never calls one on its
// own; it is supplied by whoever asks for the conflict to be resolved.
type Resolver func(c models.Conflict) (Decision, error)

// KeepLocal pushes the local record over the remote copy.
func KeepLocal(models.Conflict) (Decision, error) {
	return Decision{Side: SideLocal}, nil
}

// KeepRemote discards pending local changes in favour of the remote copy.
func KeepRemote(models.Conflict) (Decision, error) {
	return Decision{Side: SideRemote}, nil
}

// LastWriteWins keeps whichever side was modified most recently. Ties go
// to the local side.
func LastWriteWins(c models.Conflict) (Decision, error) {
	if c.Remote.UpdatedAt.After(c.Local.UpdatedAt) {
		return Decision{Side: SideRemote}, nil
	}
	return Decision{Side: SideLocal}, nil
}

// Merge builds a resolver from a function combining both contents.
func Merge(fn func(local, remote models.Content) models.Content) Resolver {
	return func(c models.Conflict) (Decision, error) {
		return Decision{Side: SideMerged, Merged: fn(c.Local.Content, c.Remote.Content)}, nil
	}
}

func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideRemote:
		return "remote"
	case SideMerged:
		return "merged"
	}
	return fmt.Sprintf("side(%d)", int(s))
}
