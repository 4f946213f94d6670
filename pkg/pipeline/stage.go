// Package pipeline carries single files through the Read, Hash and Write
// stages of a dedup run and keeps the bookkeeping every run shares.
package pipeline

// Stage is the stage an item has to visit next.
type Stage int32

const (
	Created Stage = iota
	Reader
	Hasher
	Writer
	Finished
)

func (s Stage) String() string {
	switch s {
	case Created:
		return "created"
	case Reader:
		return "reader"
	case Hasher:
		return "hasher"
	case Writer:
		return "writer"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}
