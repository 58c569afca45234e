package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/events"
	"github.com/wolfman30/emma-intake/internal/notify"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// Event backends accepted by EVENTS_BACKEND. "sqs,nats" fans out to both.
const (
	EventsMemory = "memory"
	EventsSQS    = "sqs"
	EventsNATS   = "nats"
)

// Email providers accepted by NOTIFY_EMAIL_PROVIDER.
const (
	EmailStub     = "stub"
	EmailSendGrid = "sendgrid"
	EmailSES      = "ses"
)

// Closer releases broker connections opened by BuildPublisher.
type Closer func()

// BuildIntakeQueue returns the queue intake events travel on. Without a queue
// URL the queue lives in memory, which only works inside one process.
func BuildIntakeQueue(cfg *appconfig.Config, awsCfg aws.Config) events.Queue {
	if cfg == nil || strings.TrimSpace(cfg.IntakeEventsQueueURL) == "" {
		return events.NewMemoryQueue(100)
	}
	return events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.IntakeEventsQueueURL)
}

// BuildPublisher wires the configured event backends.
func BuildPublisher(cfg *appconfig.Config, queue events.Queue, logger *logging.Logger) (events.Publisher, Closer, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var (
		publishers events.MultiPublisher
		closers    []func()
	)
	for _, backend := range strings.Split(cfg.EventsBackend, ",") {
		switch strings.TrimSpace(backend) {
		case "", EventsMemory:
			// An in-process notify worker drains the memory queue.
			if queue == nil {
				publishers = append(publishers, events.NewMemoryPublisher())
				continue
			}
			publishers = append(publishers, events.NewQueuePublisher(queue))
		case EventsSQS:
			if strings.TrimSpace(cfg.IntakeEventsQueueURL) == "" || queue == nil {
				return nil, nil, fmt.Errorf("bootstrap: sqs events backend requires INTAKE_EVENTS_QUEUE_URL")
			}
			publishers = append(publishers, events.NewQueuePublisher(queue))
		case EventsNATS:
			if strings.TrimSpace(cfg.NATSURL) == "" {
				return nil, nil, fmt.Errorf("bootstrap: nats events backend requires NATS_URL")
			}
			pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSToken, logger)
			if err != nil {
				return nil, nil, err
			}
			publishers = append(publishers, pub)
			closers = append(closers, pub.Close)
		default:
			return nil, nil, fmt.Errorf("bootstrap: unknown events backend %q", backend)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(publishers) == 1 {
		return publishers[0], closeAll, nil
	}
	return publishers, closeAll, nil
}

// BuildEmailSender selects the advisor notification transport.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.NotifyEmailProvider {
	case "", EmailStub:
		return notify.NewStubEmailSender(logger), nil
	case EmailSendGrid:
		if strings.TrimSpace(cfg.SendGridAPIKey) == "" {
			return nil, fmt.Errorf("bootstrap: sendgrid requires SENDGRID_API_KEY")
		}
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case EmailSES:
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail:        cfg.EmailFromAddress,
			FromName:         cfg.EmailFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.NotifyEmailProvider)
	}
}
