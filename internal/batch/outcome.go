package batch

import "fmt"

// Run statuses
const (
	StatusComplete = "complete"
	StatusError    = "error"
)

// Outcome is the result of one group linker run
type Outcome struct {
	Status        string `json:"status"`
	AffectedCount int    `json:"affected_count"`
	Message       string `json:"message"`
}

// OK reports whether the run completed
func (o Outcome) OK() bool {
	return o.Status == StatusComplete
}

func complete(n int) Outcome {
	return Outcome{
		Status:        StatusComplete,
		AffectedCount: n,
		Message:       fmt.Sprintf("Related %d object(s) to movement", n),
	}
}

func failed(n int, msg string) Outcome {
	return Outcome{Status: StatusError, AffectedCount: n, Message: msg}
}
