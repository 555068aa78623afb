//go:generate go run github.com/dmarkham/enumer -trimprefix=Kind -type=Kind -json -text -transform=lower

package session

// Kind tags which transport shape a session was created on.  It never changes.
type Kind int

const (
	KindUnified Kind = iota + 1
	KindLegacy
)
