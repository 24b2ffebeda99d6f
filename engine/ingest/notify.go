package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/satyawork/nlp-ui/pkg/natsutil"
)

// IndexedSubject is the NATS subject for DocumentIndexed events.
const IndexedSubject = "nlpui.documents.indexed"

// NATSNotifier publishes DocumentIndexed events on IndexedSubject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier creates a notifier. An empty subject means IndexedSubject.
func NewNATSNotifier(nc *nats.Conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = IndexedSubject
	}
	return &NATSNotifier{nc: nc, subject: subject}
}

// DocumentIndexed implements Notifier.
func (n *NATSNotifier) DocumentIndexed(ctx context.Context, ev DocumentIndexed) error {
	return natsutil.Publish(ctx, n.nc, n.subject, ev)
}

// WatchIndexed calls handler for every DocumentIndexed event on subject.
func WatchIndexed(nc *nats.Conn, subject string, handler func(context.Context, DocumentIndexed), log *slog.Logger) (*nats.Subscription, error) {
	if subject == "" {
		subject = IndexedSubject
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("ingest: watching indexed documents", "subject", subject)
	return natsutil.Subscribe(nc, subject, handler)
}
