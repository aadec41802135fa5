package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prehled-vlaku/poller/internal/journey"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

type countingMetrics struct {
	ok, errs int
}

func (m *countingMetrics) NATSPublishedInc() { m.ok++ }
func (m *countingMetrics) NATSPublishErrInc() { m.errs++ }
func (m *countingMetrics) NATSSetConnected(bool) {}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "České_dráhy__a_s_", subjectToken(" České dráhy, a.s. "))
	assert.Equal(t, "_", subjectToken("  "))
	assert.Equal(t, "a_b_c", subjectToken("a*b>c"))
}

func TestJourneyArrived(t *testing.T) {
	conn := &fakeConn{}
	m := &countingMetrics{}
	p := newPublisher(conn, "journeys.", quietLogger(), m)

	delay := 7.0
	arr := time.Date(2024, 5, 1, 14, 7, 0, 0, time.UTC)
	p.JourneyArrived(context.Background(), journey.JourneyRecord{
		TrainID:             7,
		Name:                "EC 332",
		Carrier:             "RegioJet",
		PlannedArrival:      arr.Add(-7 * time.Minute),
		ActualArrival:       &arr,
		ArrivalDelayMinutes: &delay,
		Arrived:             true,
	})

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "journeys.arrived.RegioJet", conn.msgs[0].subject)

	var msg ArrivalMessage
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &msg))
	assert.Equal(t, int64(7), msg.TrainID)
	require.NotNil(t, msg.ArrivalDelayMinutes)
	assert.Equal(t, 7.0, *msg.ArrivalDelayMinutes)
	assert.Nil(t, msg.ActualDeparture)
	assert.Equal(t, 1, m.ok)
}

func TestJourneyArrived_PublishError(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	m := &countingMetrics{}
	p := newPublisher(conn, "", quietLogger(), m)

	p.JourneyArrived(context.Background(), journey.JourneyRecord{TrainID: 1, Carrier: "ČD"})

	assert.Equal(t, 1, m.errs)
	assert.Equal(t, "journeys.arrived.ČD", p.Subject("ČD"))
}
