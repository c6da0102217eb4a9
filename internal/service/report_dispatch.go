package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	"github.com/clinovia/clinic-lab-api/pkg/jobs"
)

// Notifier delivers reports to recipients. Transport mechanics (SMTP,
// in-app inbox) live outside this core.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, message string) error
	SendSystemNotification(ctx context.Context, recipientID, message string) error
}

// LoggingNotifier is the default no-transport notifier used in development.
type LoggingNotifier struct {
	Logger *zap.Logger
}

// SendEmail logs the outbound email instead of delivering it.
func (n LoggingNotifier) SendEmail(ctx context.Context, to, subject, message string) error {
	if n.Logger != nil {
		n.Logger.Sugar().Infow("report email dispatched", "to", to, "subject", subject)
	}
	return nil
}

// SendSystemNotification logs the in-app notification instead of delivering it.
func (n LoggingNotifier) SendSystemNotification(ctx context.Context, recipientID, message string) error {
	if n.Logger != nil {
		n.Logger.Sugar().Infow("report notification dispatched", "recipient", recipientID)
	}
	return nil
}

type dispatchPayload struct {
	RequestID    string
	PatientID    string
	SendMethod   models.SendMethod
	SentTo       string
	EmailSubject string
	EmailMessage string
	Notification string
}

// QueuedReportDispatcher pushes report deliveries onto the background worker
// queue so the REPORT_SENT transition returns without waiting on transport.
type QueuedReportDispatcher struct {
	queue    *jobs.Queue
	notifier Notifier
	logger   *zap.Logger
}

// NewQueuedReportDispatcher builds the dispatcher and its queue. Start must
// be called before transitions begin enqueuing deliveries.
func NewQueuedReportDispatcher(notifier Notifier, cfg jobs.QueueConfig, logger *zap.Logger) *QueuedReportDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = LoggingNotifier{Logger: logger}
	}
	d := &QueuedReportDispatcher{notifier: notifier, logger: logger}
	cfg.Logger = logger
	d.queue = jobs.NewQueue("report_dispatch", d.handle, cfg)
	return d
}

// Start launches the queue workers.
func (d *QueuedReportDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the queue workers.
func (d *QueuedReportDispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch implements ReportDispatcher.
func (d *QueuedReportDispatcher) Dispatch(ctx context.Context, tr *models.TestRequest, req dto.SendReportRequest) error {
	payload := dispatchPayload{
		RequestID:    tr.ID,
		PatientID:    tr.PatientID,
		SendMethod:   req.SendMethod,
		SentTo:       req.SentTo,
		EmailSubject: req.EmailSubject,
		EmailMessage: req.EmailMessage,
		Notification: req.NotificationMessage,
	}
	if err := d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "report_dispatch",
		Payload: payload,
	}); err != nil {
		return err
	}
	d.logger.Debug("report delivery enqueued",
		zap.String("test_request_id", tr.ID),
		zap.String("send_method", string(req.SendMethod)),
		zap.Int("queue_depth", d.queue.Depth()))
	return nil
}

func (d *QueuedReportDispatcher) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(dispatchPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}

	subject := payload.EmailSubject
	if subject == "" {
		subject = fmt.Sprintf("Lab report for request %s", payload.RequestID)
	}

	if payload.SendMethod == models.SendMethodEmail || payload.SendMethod == models.SendMethodBoth {
		if err := d.notifier.SendEmail(ctx, payload.SentTo, subject, payload.EmailMessage); err != nil {
			return fmt.Errorf("send report email: %w", err)
		}
	}
	if payload.SendMethod == models.SendMethodSystem || payload.SendMethod == models.SendMethodBoth {
		message := payload.Notification
		if message == "" {
			message = fmt.Sprintf("Your lab report for request %s is ready", payload.RequestID)
		}
		if err := d.notifier.SendSystemNotification(ctx, payload.PatientID, message); err != nil {
			return fmt.Errorf("send report notification: %w", err)
		}
	}
	return nil
}
