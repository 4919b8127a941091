package media_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/workertest"
	"github.com/Wyydra/ya-sfu/internal/core/domain"
	"github.com/Wyydra/ya-sfu/internal/core/media"
)

func newDataPair(t *testing.T) (*workertest.Worker, *media.DataProducer, *media.DataConsumer) {
	t.Helper()

	fake, _, tr := newDirectTransport(t)
	dp, err := tr.ProduceData(context.Background(), media.DataProducerOptions{})
	require.NoError(t, err)
	dc, err := tr.ConsumeData(context.Background(), media.DataConsumerOptions{DataProducerID: dp.ID()})
	require.NoError(t, err)
	return fake, dp, dc
}

func TestDirectDataTypes(t *testing.T) {
	fake, dp, dc := newDataPair(t)

	assert.Equal(t, domain.DataProducerTypeDirect, dp.Type())
	assert.Equal(t, domain.DataConsumerTypeDirect, dc.Type())
	assert.Nil(t, dc.SctpStreamParameters())
	assert.Equal(t, dp.ID(), dc.DataProducerID())

	var data struct {
		Type                 string          `json:"type"`
		SctpStreamParameters json.RawMessage `json:"sctpStreamParameters"`
	}
	require.NoError(t, json.Unmarshal(fake.RequestsFor("transport.consumeData")[0].Data, &data))
	assert.Equal(t, "direct", data.Type)
	assert.Empty(t, data.SctpStreamParameters)
}

func TestDataProducerSend(t *testing.T) {
	fake, dp, _ := newDataPair(t)

	require.NoError(t, dp.Send(domain.NewStringMessage("hello")))
	require.NoError(t, dp.Send(domain.NewBinaryMessage(nil)))

	require.Eventually(t, func() bool { return len(fake.Notifications()) == 2 }, waitFor, tick)
	ns := fake.Notifications()
	assert.Equal(t, "dataProducer.send", ns[0].Event)
	assert.JSONEq(t, `{"ppid":51}`, string(ns[0].Data))
	assert.Equal(t, "hello", string(ns[0].Payload))
	assert.JSONEq(t, `{"ppid":57}`, string(ns[1].Data))
	assert.Equal(t, []byte{0}, ns[1].Payload)
}

func TestDataConsumerMessage(t *testing.T) {
	fake, _, dc := newDataPair(t)

	msgs := make(chan domain.WebRtcMessage, 2)
	dc.OnMessage(func(m domain.WebRtcMessage) { msgs <- m })

	require.NoError(t, fake.NotifyPayload(dc.ID().String(), "message", map[string]any{"ppid": 51}, []byte("hi")))
	require.NoError(t, fake.NotifyPayload(dc.ID().String(), "message", map[string]any{"ppid": 56}, []byte(" ")))

	for _, want := range []domain.WebRtcMessage{
		{PPID: domain.PPIDString, Payload: []byte("hi")},
		{PPID: domain.PPIDEmptyString},
	} {
		select {
		case got := <-msgs:
			assert.Equal(t, want.PPID, got.PPID)
			assert.Equal(t, string(want.Payload), string(got.Payload))
			assert.True(t, got.IsString())
		case <-waitTimeout():
			t.Fatal("no message")
		}
	}
}

func TestDataConsumerSend(t *testing.T) {
	fake, _, dc := newDataPair(t)

	require.NoError(t, dc.Send(context.Background(), domain.NewBinaryMessage([]byte{1, 2, 3})))

	reqs := fake.RequestsFor("dataConsumer.send")
	require.Len(t, reqs, 1)
	assert.Equal(t, workertest.Payload, reqs[0].Channel)
	assert.JSONEq(t, `{"ppid":53}`, string(reqs[0].Data))
	assert.Equal(t, []byte{1, 2, 3}, reqs[0].Payload)
	assert.Equal(t, dc.ID().String(), reqs[0].Internal.DataConsumerID)

	dc.Close()
	err := dc.Send(context.Background(), domain.NewStringMessage("late"))
	assert.ErrorIs(t, err, domain.ErrEntityClosed)
	assert.Equal(t, 1, fake.Count("dataConsumer.send"))
}

func TestDataConsumerBufferedAmount(t *testing.T) {
	fake, _, dc := newDataPair(t)
	fake.Reply("dataConsumer.getBufferedAmount", map[string]any{"bufferedAmount": 512})

	n, err := dc.GetBufferedAmount(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 512, n)

	require.NoError(t, dc.SetBufferedAmountLowThreshold(context.Background(), 128))
	assert.JSONEq(t, `{"threshold":128}`, string(fake.RequestsFor("dataConsumer.setBufferedAmountLowThreshold")[0].Data))

	low := make(chan uint32, 1)
	dc.OnBufferedAmountLow(func(n uint32) { low <- n })
	require.NoError(t, fake.Notify(dc.ID().String(), "bufferedamountlow", map[string]any{"bufferedAmount": 64}))
	select {
	case n := <-low:
		assert.EqualValues(t, 64, n)
	case <-waitTimeout():
		t.Fatal("no bufferedamountlow")
	}
}

func TestDataConsumerDataProducerClose(t *testing.T) {
	fake, dp, dc := newDataPair(t)

	var dpClosed counter
	dc.OnDataProducerClose(dpClosed.inc)

	dp.Close()
	eventuallyCount(t, fake, "dataProducer.close", 1)

	// the worker tells consumers their data producer is gone
	require.NoError(t, fake.Notify(dc.ID().String(), "dataproducerclose", nil))
	require.Eventually(t, dc.Closed, waitFor, tick)
	eventuallyCount(t, fake, "dataConsumer.close", 1)
	assert.Equal(t, 1, dpClosed.get())

	_, err := dc.GetBufferedAmount(context.Background())
	assert.ErrorIs(t, err, domain.ErrEntityClosed)
}

func TestConsumeDataUnknownProducer(t *testing.T) {
	fake, _, tr := newDirectTransport(t)

	_, err := tr.ConsumeData(context.Background(), media.DataConsumerOptions{DataProducerID: domain.NewDataProducerID()})
	assert.ErrorIs(t, err, domain.ErrDataProducerNotFound)
	assert.Zero(t, fake.Count("transport.consumeData"))
}
