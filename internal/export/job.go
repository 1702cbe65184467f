package export

// Wire types for the identity platform's asynchronous bulk-export protocol.

// exportField is one column of the export projection.
type exportField struct {
	Name     string `json:"name"`
	ExportAs string `json:"export_as,omitempty"`
}

// createJobRequest submits a new user export job.
type createJobRequest struct {
	Format string        `json:"format"`
	Limit  int           `json:"limit"`
	Fields []exportField `json:"fields"`
}

// createJobResponse carries the identifier of the created job.
type createJobResponse struct {
	ID string `json:"id"`
}

// Job states reported by the platform. Anything other than the two terminal
// states is treated as pending.
const (
	jobStatusCompleted = "completed"
	jobStatusFailed    = "failed"
)

// jobStatus is the poll response for a job.
type jobStatus struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Location string `json:"location"`
	Error    string `json:"error"`
}
