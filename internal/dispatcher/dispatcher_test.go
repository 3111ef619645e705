package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/jmehdipour/ingest-gateway/internal/broker"
	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
	"github.com/jmehdipour/ingest-gateway/internal/model"
)

type published struct {
	ctx    context.Context
	msg    broker.Message
	future *broker.Future
}

// fakePublisher completes futures with auto when set, otherwise leaves them
// for the test to complete.
type fakePublisher struct {
	mu    sync.Mutex
	calls []published
	auto  *broker.Outcome
}

func (p *fakePublisher) Publish(ctx context.Context, msg broker.Message) *broker.Future {
	f := broker.NewFuture()
	p.mu.Lock()
	p.calls = append(p.calls, published{ctx: ctx, msg: msg, future: f})
	p.mu.Unlock()
	if p.auto != nil {
		f.Complete(*p.auto)
	}
	return f
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type memRecorder struct {
	mu   sync.Mutex
	recs []model.Delivery
}

func (r *memRecorder) Record(d model.Delivery) {
	r.mu.Lock()
	r.recs = append(r.recs, d)
	r.mu.Unlock()
}

func (r *memRecorder) all() []model.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Delivery(nil), r.recs...)
}

const orderSchema = `{"type":"record","name":"Order","namespace":"shop","fields":[
	{"name":"id","type":"string"},{"name":"amount","type":"long"}]}`

func testRegistry(t testing.TB) *endpoint.Registry {
	t.Helper()
	parsed, err := avro.ParseWithCache(orderSchema, "", &avro.SchemaCache{})
	require.NoError(t, err)

	return endpoint.NewRegistry(
		endpoint.Definition{ID: "orders", Topic: "orders-topic", Blocking: true},
		endpoint.Definition{ID: "clicks", Topic: "clicks-topic", Blocking: false},
		endpoint.Definition{ID: "avro-orders", Topic: "avro-orders-topic", Blocking: true,
			Format: &endpoint.Schema{Text: orderSchema, Parsed: parsed}},
	)
}

func ack() *broker.Outcome {
	o := broker.Acknowledged(broker.Ack{Topic: "orders-topic", Partition: 1, Offset: 99})
	return &o
}

func wait(t *testing.T, p *Pending) model.ResponseEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := p.Wait(ctx)
	require.NoError(t, err)
	return env
}

func TestDispatch_BlockingAck(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	rec := &memRecorder{}
	d := New(testRegistry(t), pub, WithRecorder(rec))

	ev := model.NewIngestEvent("orders", []byte(`{"a":1}`))
	p := d.Dispatch(context.Background(), ev)
	env := wait(t, p)

	assert.Equal(t, StateAcked, p.State())
	assert.Equal(t, "orders", env.DestinationID)
	assert.Equal(t, ev.ID, env.ID)
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "OK", env.Message)
	assert.Empty(t, env.Error)

	require.Equal(t, 1, pub.count())
	msg := pub.last().msg
	assert.Equal(t, "orders-topic", msg.Topic)
	assert.Equal(t, ev.ID, msg.Key)
	assert.JSONEq(t, `{"a":1}`, string(msg.Value))
	assert.Equal(t, "application/json", msg.Headers["content-type"])

	recs := rec.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.DeliveryAcked, recs[0].Status)
	assert.Equal(t, int64(99), recs[0].Offset)
	assert.Equal(t, int32(1), recs[0].Partition)
}

func TestDispatch_BlockingWaitsForBroker(t *testing.T) {
	pub := &fakePublisher{}
	d := New(testRegistry(t), pub)

	p := d.Dispatch(context.Background(), model.NewIngestEvent("orders", []byte(`{}`)))
	assert.Equal(t, StateUnresolved, p.State())
	_, ok := p.Envelope()
	assert.False(t, ok)

	pub.last().future.Complete(*ack())
	assert.Equal(t, http.StatusOK, wait(t, p).Status)
}

func TestDispatch_BlockingFailure(t *testing.T) {
	failed := broker.Failed(errors.New("Topic orders-topic not present in metadata after 60000 ms."))
	pub := &fakePublisher{auto: &failed}
	d := New(testRegistry(t), pub)

	p := d.Dispatch(context.Background(), model.NewIngestEvent("orders", []byte(`{}`)))
	env := wait(t, p)

	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.Equal(t, "Topic orders-topic not present in metadata after 60000 ms.", env.Message)
	assert.Equal(t, "Internal Server Error", env.Error)
}

func TestDispatch_UnknownEndpoint(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	d := New(testRegistry(t), pub)

	for _, body := range []string{`{"a":1}`, `not json`, ``, `{"a":1,"a":2}`} {
		p := d.Dispatch(context.Background(), model.NewIngestEvent("unknown", []byte(body)))
		env := wait(t, p)

		assert.Equal(t, StateNotFound, p.State())
		assert.Equal(t, http.StatusNotFound, env.Status)
		assert.Equal(t, "Endpoint with endpointId = 'unknown' does not exist.", env.Message)
		assert.Equal(t, "Not Found", env.Error)
	}
	assert.Zero(t, pub.count())
}

func TestDispatch_MalformedNeverPublishes(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	d := New(testRegistry(t), pub)

	rapid.Check(t, func(rt *rapid.T) {
		body := rapid.SliceOf(rapid.Byte()).Filter(func(b []byte) bool { return !json.Valid(b) }).Draw(rt, "body")
		dest := rapid.SampledFrom([]string{"orders", "clicks", "avro-orders"}).Draw(rt, "dest")

		p := d.Dispatch(context.Background(), model.NewIngestEvent(dest, body))
		env, ok := p.Envelope()
		if !ok {
			rt.Fatalf("malformed payload left the request pending")
		}
		if env.Status != http.StatusBadRequest || p.State() != StateInvalid {
			rt.Fatalf("status %d state %s for %q", env.Status, p.State(), body)
		}
	})
	assert.Zero(t, pub.count())
}

func TestDispatch_DuplicateKeysRejected(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	d := New(testRegistry(t), pub)

	env := wait(t, d.Dispatch(context.Background(), model.NewIngestEvent("orders", []byte(`{"a":1,"a":2}`))))
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, env.Message, "Payload is not valid JSON. ")
	assert.Contains(t, env.Message, "duplicate field 'a'")
	assert.Zero(t, pub.count())
}

func TestDispatch_SchemaMismatch(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	d := New(testRegistry(t), pub)

	p := d.Dispatch(context.Background(), model.NewIngestEvent("avro-orders", []byte(`{"id":"o-1"}`)))
	env := wait(t, p)

	assert.Equal(t, StateTranscodeFailed, p.State())
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, env.Message, "$.amount")
	assert.Equal(t, "Bad Request", env.Error)
	assert.Zero(t, pub.count())
}

func TestDispatch_SchemaPublishesAvro(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	d := New(testRegistry(t), pub)

	env := wait(t, d.Dispatch(context.Background(), model.NewIngestEvent("avro-orders", []byte(`{"id":"o-1","amount":5}`))))
	require.Equal(t, http.StatusOK, env.Status)

	msg := pub.last().msg
	assert.Equal(t, "avro/binary", msg.Headers["content-type"])

	var got struct {
		ID     string `avro:"id"`
		Amount int64  `avro:"amount"`
	}
	def, _ := testRegistry(t).Lookup("avro-orders")
	s, _ := def.Schema()
	require.NoError(t, avro.Unmarshal(s.Parsed, msg.Value, &got))
	assert.Equal(t, "o-1", got.ID)
	assert.Equal(t, int64(5), got.Amount)
}

func TestDispatch_NonBlockingAcceptsBeforeOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	pub := &fakePublisher{}
	rec := &memRecorder{}
	d := New(testRegistry(t), pub, WithRecorder(rec), WithLogger(zap.New(core)))

	ev := model.NewIngestEvent("clicks", []byte(`{"x":true}`))
	p := d.Dispatch(context.Background(), ev)

	env, ok := p.Envelope()
	require.True(t, ok, "non-blocking response must not wait for the broker")
	assert.Equal(t, StateAccepted, p.State())
	assert.Equal(t, http.StatusAccepted, env.Status)
	assert.Equal(t, "Accepted", env.Message)
	assert.Empty(t, rec.all())

	time.Sleep(20 * time.Millisecond)
	pub.last().future.Complete(broker.Failed(errors.New("broker down")))

	after, _ := p.Envelope()
	assert.Equal(t, env, after)
	assert.Equal(t, StateAccepted, p.State())

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unable to send message", entries[0].Message)
	assert.Equal(t, ev.ID, entries[0].ContextMap()["id"])

	recs := rec.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.DeliveryFailed, recs[0].Status)
	assert.Equal(t, "broker down", recs[0].Error)
	assert.False(t, recs[0].Blocking)
}

func TestDispatch_DistinctIDs(t *testing.T) {
	pub := &fakePublisher{auto: ack()}
	d := New(testRegistry(t), pub)

	a := wait(t, d.Dispatch(context.Background(), model.NewIngestEvent("orders", []byte(`{"a":1}`))))
	b := wait(t, d.Dispatch(context.Background(), model.NewIngestEvent("orders", []byte(`{"a":1}`))))

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, pub.calls[0].msg.Key, pub.calls[1].msg.Key)
}

func TestDispatch_RequestCancelDoesNotCancelPublish(t *testing.T) {
	pub := &fakePublisher{}
	d := New(testRegistry(t), pub)

	ctx, cancel := context.WithCancel(context.Background())
	p := d.Dispatch(ctx, model.NewIngestEvent("orders", []byte(`{}`)))
	cancel()

	assert.NoError(t, pub.last().ctx.Err())

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	pub.last().future.Complete(*ack())
	assert.Equal(t, StateAcked, p.State())
}

func TestStatusOf(t *testing.T) {
	cause := errors.New("x")
	assert.Equal(t, http.StatusOK, StatusOf(nil))
	assert.Equal(t, http.StatusNotFound, StatusOf(&NotFoundError{DestinationID: "a"}))
	assert.Equal(t, http.StatusBadRequest, StatusOf(&ValidationError{Cause: cause}))
	assert.Equal(t, http.StatusBadRequest, StatusOf(&TranscodeError{Cause: cause}))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(&DispatchError{Cause: cause}))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(cause))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "Payload is not valid JSON. unexpected end", (&ValidationError{Cause: errors.New("unexpected end")}).Error())
	assert.Equal(t, "Payload is not valid JSON.", (&ValidationError{}).Error())
	assert.Equal(t, "Payload does not match the schema of endpoint 'o'. $.id: missing required field",
		(&TranscodeError{DestinationID: "o", Cause: errors.New("$.id: missing required field")}).Error())
	assert.Equal(t, "publish to topic 't' failed", (&DispatchError{Topic: "t"}).Error())

	cause := errors.New("root")
	assert.ErrorIs(t, &DispatchError{Cause: cause}, cause)
}
