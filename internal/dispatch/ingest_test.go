package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

func event(ext string, s model.MessageStatus) gateway.StatusEvent {
	return gateway.StatusEvent{ExternalID: ext, Status: s, RawStatus: string(s), Timestamp: time.Now().UTC()}
}

func TestIngest_DeliveredTwiceCountsOnce(t *testing.T) {
	st := newMemStore(sent(1, "wamid.1"))
	in := NewIngester(st)

	out, err := in.Apply(context.Background(), event("wamid.1", model.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, IngestApplied, out)

	out, err = in.Apply(context.Background(), event("wamid.1", model.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out)

	assert.Equal(t, 1, st.count(model.CounterDelivered))
	assert.Equal(t, model.StatusDelivered, st.get(1).Status)
}

func TestIngest_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	st := newMemStore(sent(1, "wamid.1"))
	in := NewIngester(st)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := in.Apply(context.Background(), event("wamid.1", model.StatusDelivered))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, st.count(model.CounterDelivered))
}

func TestIngest_OutOfOrderNeverRegresses(t *testing.T) {
	st := newMemStore(sent(1, "wamid.1"))
	in := NewIngester(st)

	out, err := in.Apply(context.Background(), event("wamid.1", model.StatusRead))
	require.NoError(t, err)
	assert.Equal(t, IngestApplied, out)

	out, err = in.Apply(context.Background(), event("wamid.1", model.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out)

	out, err = in.Apply(context.Background(), event("wamid.1", model.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out)

	assert.Equal(t, model.StatusRead, st.get(1).Status)
	assert.Equal(t, 1, st.count(model.CounterRead))
	assert.Equal(t, 1, st.count(model.CounterDelivered), "read implies delivered")
}

func TestIngest_FailedAfterSent(t *testing.T) {
	st := newMemStore(sent(1, "wamid.1"))
	in := NewIngester(st)

	ev := event("wamid.1", model.StatusFailed)
	ev.Reason = "Message undeliverable"
	out, err := in.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, IngestApplied, out)

	m := st.get(1)
	assert.Equal(t, model.StatusFailed, m.Status)
	assert.Equal(t, "Message undeliverable", m.FailReason)
	assert.Equal(t, 1, st.count(model.CounterFailed))

	out, err = in.Apply(context.Background(), event("wamid.1", model.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out, "failed is terminal")
}

func TestIngest_UnknownAndUnrecognized(t *testing.T) {
	st := newMemStore(sent(1, "wamid.1"))
	in := NewIngester(st)

	out, err := in.Apply(context.Background(), event("wamid.nope", model.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, IngestUnknown, out)

	out, err = in.Apply(context.Background(), gateway.StatusEvent{ExternalID: "wamid.1", RawStatus: "deleted"})
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out)
	assert.Equal(t, model.StatusSent, st.get(1).Status)
}

func TestIngest_AdHocMessageUpdatesStatusOnly(t *testing.T) {
	m := sent(1, "wamid.1")
	m.RunID = nil
	st := newMemStore(m)

	out, err := NewIngester(st).Apply(context.Background(), event("wamid.1", model.StatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, IngestApplied, out)
	assert.Zero(t, st.count(model.CounterDelivered))
}
