// Package notify delivers collaborator notifications. Invites are either
// queued as asynq tasks and mailed by a worker, or mailed inline when no
// queue is configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"formsmith/api/internal/email"
)

const (
	TypeCollaboratorInvited = "notify:collaborator_invited"
	QueueName               = "notify"
	maxRetry                = 5
)

var invitesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "formsmith_notify_invites_total",
		Help: "Collaborator invite notifications by delivery path and outcome.",
	},
	[]string{"path", "outcome"},
)

func init() {
	prometheus.MustRegister(invitesTotal)
}

// Invite is the payload of a collaborator-invited notification.
type Invite struct {
	Email       string `json:"email"`
	FormID      string `json:"formId"`
	FormTitle   string `json:"formTitle"`
	Role        string `json:"role"`
	InviterName string `json:"inviterName"`
	Link        string `json:"link"`
}

func (p *Invite) Normalize() {
	p.Email = strings.TrimSpace(p.Email)
	p.FormID = strings.TrimSpace(p.FormID)
	p.FormTitle = strings.TrimSpace(p.FormTitle)
}

// Sender is the notification port used by the application service.
type Sender interface {
	NotifyCollaboratorInvited(ctx context.Context, invite Invite) error
}

// Mailer is the part of email.Service the notifier drives.
type Mailer interface {
	IsConfigured() bool
	SendCollaboratorInvite(to string, data email.InviteData) error
}

func NewCollaboratorInvitedTask(invite Invite) (*asynq.Task, error) {
	invite.Normalize()
	b, err := json.Marshal(invite)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCollaboratorInvited, b), nil
}

func deliver(mailer Mailer, invite Invite) error {
	return mailer.SendCollaboratorInvite(invite.Email, email.InviteData{
		InviterName: invite.InviterName,
		FormTitle:   invite.FormTitle,
		Role:        invite.Role,
		FormURL:     invite.Link,
	})
}

// HandleCollaboratorInvited is the worker side of the invite task. Malformed
// payloads are not retried.
func HandleCollaboratorInvited(mailer Mailer, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var invite Invite
		if err := json.Unmarshal(t.Payload(), &invite); err != nil {
			invitesTotal.WithLabelValues("worker", "failed").Inc()
			return fmt.Errorf("decode invite payload: %v: %w", err, asynq.SkipRetry)
		}
		if invite.Email == "" {
			invitesTotal.WithLabelValues("worker", "failed").Inc()
			return fmt.Errorf("invite without recipient: %w", asynq.SkipRetry)
		}
		if !mailer.IsConfigured() {
			invitesTotal.WithLabelValues("worker", "skipped").Inc()
			log.Warn().Str("form_id", invite.FormID).Msg("email not configured, dropping invite")
			return nil
		}
		if err := deliver(mailer, invite); err != nil {
			invitesTotal.WithLabelValues("worker", "failed").Inc()
			return fmt.Errorf("send invite: %w", err)
		}
		invitesTotal.WithLabelValues("worker", "ok").Inc()
		log.Info().Str("form_id", invite.FormID).Str("role", invite.Role).Msg("invite sent")
		return nil
	}
}
