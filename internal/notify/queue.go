package notify

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Queue hands invites to the asynq worker pool.
type Queue struct {
	client enqueuer
	log    zerolog.Logger
}

func NewQueue(opt asynq.RedisConnOpt, log zerolog.Logger) *Queue {
	return &Queue{client: asynq.NewClient(opt), log: log}
}

func (q *Queue) NotifyCollaboratorInvited(ctx context.Context, invite Invite) error {
	task, err := NewCollaboratorInvitedTask(invite)
	if err != nil {
		return fmt.Errorf("build invite task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(QueueName), asynq.MaxRetry(maxRetry))
	if err != nil {
		invitesTotal.WithLabelValues("queue", "failed").Inc()
		return fmt.Errorf("enqueue invite: %w", err)
	}
	invitesTotal.WithLabelValues("queue", "ok").Inc()
	q.log.Debug().Str("task_id", info.ID).Str("form_id", invite.FormID).Msg("invite queued")
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Worker runs the asynq server that drains the notify queue.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewWorker(opt asynq.RedisConnOpt, mailer Mailer, log zerolog.Logger) *Worker {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{QueueName: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCollaboratorInvited, HandleCollaboratorInvited(mailer, log))
	return &Worker{srv: srv, mux: mux}
}

func (w *Worker) Start() error {
	return w.srv.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// Direct mails invites inline. It is used when Redis is not configured.
type Direct struct {
	mailer Mailer
	log    zerolog.Logger
}

func NewDirect(mailer Mailer, log zerolog.Logger) *Direct {
	return &Direct{mailer: mailer, log: log}
}

func (d *Direct) NotifyCollaboratorInvited(_ context.Context, invite Invite) error {
	invite.Normalize()
	if !d.mailer.IsConfigured() {
		invitesTotal.WithLabelValues("direct", "skipped").Inc()
		d.log.Debug().Str("form_id", invite.FormID).Msg("email not configured, skipping invite")
		return nil
	}
	if err := deliver(d.mailer, invite); err != nil {
		invitesTotal.WithLabelValues("direct", "failed").Inc()
		return fmt.Errorf("send invite: %w", err)
	}
	invitesTotal.WithLabelValues("direct", "ok").Inc()
	return nil
}
