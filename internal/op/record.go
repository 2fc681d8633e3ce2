package op

import "time"

// Record is an operation as held by the durable log. Seq is assigned by the
// store and is strictly increasing per project.
type Record struct {
	Seq        int64
	ProjectID  string
	Op         Operation
	RecordedAt time.Time
}
