package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahulnair23/foyer/internal/queue"
)

// Publisher enqueues outbound notification jobs. Publishing succeeds once the
// broker accepts the message; delivery happens asynchronously in the worker.
type Publisher struct {
	queue   queue.Queue
	baseURL string
}

// NewPublisher constructs a Publisher. baseURL is the public address used to
// build invite links and may be empty.
func NewPublisher(q queue.Queue, baseURL string) (*Publisher, error) {
	if q == nil {
		return nil, errors.New("notify: queue is required")
	}
	return &Publisher{
		queue:   q,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// PublishInvite enqueues the invitation email for a newly invited user.
func (p *Publisher) PublishInvite(ctx context.Context, to, inviteID string) error {
	link := inviteID
	if p.baseURL != "" {
		link = fmt.Sprintf("%s/signup?invite=%s", p.baseURL, inviteID)
	}

	job := Job{
		To:      to,
		Subject: "You have been invited",
		Content: fmt.Sprintf(
			"Hello,\n\nYou have been invited to join. Complete your signup here:\n%s\n\nYour invite ID is %s.\nIf you did not expect this email, you can ignore it.\n",
			link, inviteID,
		),
		Type: TypeInvite,
	}
	return p.publish(ctx, job)
}

// PublishCode enqueues a one-time verification code email. The code expires
// ten minutes after staging.
func (p *Publisher) PublishCode(ctx context.Context, to, code string) error {
	job := Job{
		To:      to,
		Subject: "Your verification code",
		Content: fmt.Sprintf("Please use verification code %s. It expires in 10 minutes.\n", code),
		Type:    TypeOTP,
	}
	return p.publish(ctx, job)
}

func (p *Publisher) publish(ctx context.Context, job Job) error {
	body, err := job.Encode()
	if err != nil {
		return fmt.Errorf("notify: encode job: %w", err)
	}
	return p.queue.Publish(ctx, body)
}
