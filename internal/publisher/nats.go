package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/prehled-vlaku/poller/internal/journey"
)

// NATSPublisher announces finalized journeys on NATS.
type NATSPublisher struct {
	conn    publishConn
	prefix  string
	logger  *slog.Logger
	metrics PublisherMetrics
}

type publishConn interface {
	Publish(subject string, data []byte) error
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logger *slog.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("prehled-vlaku-poller"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, prefix, logger, m), nil
}

func newPublisher(conn publishConn, prefix string, logger *slog.Logger, m PublisherMetrics) *NATSPublisher {
	if prefix = strings.Trim(prefix, ". "); prefix == "" {
		prefix = "journeys"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger, metrics: m}
}

func (p *NATSPublisher) Close() {
	if nc, ok := p.conn.(*nats.Conn); ok && nc != nil {
		nc.Drain()
		nc.Close()
	}
}

// ArrivalMessage is the JSON payload of an arrival event.
type ArrivalMessage struct {
	TrainID                int64      `json:"trainId"`
	Name                   string     `json:"name"`
	Carrier                string     `json:"carrier"`
	Origin                 string     `json:"origin"`
	Destination            string     `json:"destination"`
	PlannedDeparture       time.Time  `json:"plannedDeparture"`
	ActualDeparture        *time.Time `json:"actualDeparture,omitempty"`
	PlannedArrival         time.Time  `json:"plannedArrival"`
	ActualArrival          *time.Time `json:"actualArrival,omitempty"`
	ExpectedJourneyMinutes float64    `json:"expectedJourneyMinutes"`
	DepartureDelayMinutes  *float64   `json:"departureDelayMinutes,omitempty"`
	ArrivalDelayMinutes    *float64   `json:"arrivalDelayMinutes,omitempty"`
}

// Subject returns the subject an arrival of carrier is published on.
func (p *NATSPublisher) Subject(carrier string) string {
	return fmt.Sprintf("%s.arrived.%s", p.prefix, subjectToken(carrier))
}

// JourneyArrived implements journey.Notifier. Publish failures are logged
// and counted; they never block tracking.
func (p *NATSPublisher) JourneyArrived(_ context.Context, rec journey.JourneyRecord) {
	msg := ArrivalMessage{
		TrainID:                rec.TrainID,
		Name:                   rec.Name,
		Carrier:                rec.Carrier,
		Origin:                 rec.Origin,
		Destination:            rec.Destination,
		PlannedDeparture:       rec.PlannedDeparture,
		ActualDeparture:        rec.ActualDeparture,
		PlannedArrival:         rec.PlannedArrival,
		ActualArrival:          rec.ActualArrival,
		ExpectedJourneyMinutes: rec.ExpectedJourneyMinutes,
		DepartureDelayMinutes:  rec.DepartureDelayMinutes,
		ArrivalDelayMinutes:    rec.ArrivalDelayMinutes,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("nats: failed to encode arrival", "train_id", rec.TrainID, "error", err)
		return
	}

	subject := p.Subject(rec.Carrier)
	if err := p.conn.Publish(subject, b); err != nil {
		if p.metrics != nil {
			p.metrics.NATSPublishErrInc()
		}
		p.logger.Warn("nats: publish failed", "subject", subject, "train_id", rec.TrainID, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.NATSPublishedInc()
	}
	p.logger.Debug("nats: published arrival", "subject", subject, "train_id", rec.TrainID)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ",", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
