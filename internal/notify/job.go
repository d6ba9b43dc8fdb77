package notify

import "encoding/json"

// Job type tags carried on the queue.
const (
	TypeInvite = "invite"
	TypeOTP    = "otp"
)

// Job is the wire shape of a notification message on the durable queue.
type Job struct {
	To      string `json:"to"`
	Content string `json:"content"`
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Encode serializes the job for publishing.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a queue payload back into a Job.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}
