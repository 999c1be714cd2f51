package listener

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/clients"
	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/store"
	"github.com/wormhole-demo/swim-relayer/internal/validator"
	"github.com/wormhole-demo/swim-relayer/internal/vaatest"
)

var testNow = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	mr       *miniredis.Miniredis
	store    *store.Store
	ingestor *Ingestor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.New(zap.NewNop(), config.RedisConfig{
		Addr:       mr.Addr(),
		IncomingDB: 0,
		WorkingDB:  1,
		BackupSize: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg, err := validator.NewConfig(&config.Config{
		SwimEVMRoutingAddress: vaatest.RoutingContract,
		SupportedTokens: []config.SupportedToken{
			{ChainID: vaaLib.ChainIDEthereum, Address: vaatest.ApprovedEthToken},
		},
	})
	require.NoError(t, err)

	ingestor := NewIngestor(zap.NewNop(), validator.New(zap.NewNop(), cfg, s), s)
	ingestor.now = func() time.Time { return testNow }
	return &harness{mr: mr, store: s, ingestor: ingestor}
}

func TestSubmitSchedulesValidVAA(t *testing.T) {
	h := newHarness(t)
	opts := vaatest.Defaults()
	raw := opts.Build(t)
	ctx := context.Background()

	res, err := h.ingestor.Submit(ctx, raw)
	require.NoError(t, err)
	require.True(t, res.Accepted(), res.Reason)

	key := store.NewQueueKey(opts.EmitterChain, opts.EmitterAddress, opts.Sequence)
	entry, err := h.store.Get(ctx, store.TableIncoming, key)
	require.NoError(t, err)
	stored, err := entry.VAA()
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
	assert.Equal(t, store.StatusPending, entry.Status)
	assert.Equal(t, 0, entry.Retries)
	ts, err := entry.Time()
	require.NoError(t, err)
	assert.True(t, testNow.Equal(ts))
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	raw := vaatest.Defaults().Build(t)
	ctx := context.Background()

	_, err := h.ingestor.Submit(ctx, raw)
	require.NoError(t, err)

	res, err := h.ingestor.Submit(ctx, raw)
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, store.LocationIncoming, res.Reason)
	assert.Len(t, h.mr.DB(0).Keys(), 1)
}

func TestSubmitRejectsWrongPayloadType(t *testing.T) {
	h := newHarness(t)
	opts := vaatest.Defaults()
	opts.PayloadType = 1

	res, err := h.ingestor.Submit(context.Background(), opts.Build(t))
	require.NoError(t, err)
	assert.Equal(t, validator.ReasonWrongType, res.Reason)
	assert.Empty(t, h.mr.DB(0).Keys())
}

func TestSubmitParksWhenStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	raw := vaatest.Defaults().Build(t)
	h.mr.Close()

	res, err := h.ingestor.Submit(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, 1, h.store.BackupLen())
}

type scriptedStream struct {
	events []clients.Event
	onDone func()
}

func (s *scriptedStream) Recv() clients.Event {
	if len(s.events) == 0 {
		if s.onDone != nil {
			s.onDone()
		}
		return clients.Event{Kind: clients.EventClosed}
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev
}

type recordingSubmitter struct {
	inner Submitter
	calls int
}

func (r *recordingSubmitter) Submit(ctx context.Context, raw []byte) (validator.Result, error) {
	r.calls++
	return r.inner.Submit(ctx, raw)
}

func TestSpyListenerResubscribesAfterError(t *testing.T) {
	h := newHarness(t)
	raw := vaatest.Defaults().Build(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams := []*scriptedStream{
		{events: []clients.Event{
			{Kind: clients.EventItem, VAA: raw},
			{Kind: clients.EventItem, VAA: []byte{0x01, 0x02}},
			{Kind: clients.EventError, Err: errors.New("stream reset")},
		}},
		{events: []clients.Event{{Kind: clients.EventItem, VAA: raw}}, onDone: cancel},
	}

	subscriptions := 0
	sub := &recordingSubmitter{inner: h.ingestor}
	l := &SpyListener{
		subscribe: func(context.Context) (eventStream, error) {
			s := streams[subscriptions]
			subscriptions++
			return s, nil
		},
		submitter:   sub,
		minInterval: time.Millisecond,
		maxInterval: 5 * time.Millisecond,
		logger:      zap.NewNop(),
	}

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 2, subscriptions)
	assert.Equal(t, 3, sub.calls)
	assert.Len(t, h.mr.DB(0).Keys(), 1)
}

func TestSpyListenerRetriesFailedSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	l := &SpyListener{
		subscribe: func(context.Context) (eventStream, error) {
			attempts++
			if attempts == 3 {
				cancel()
			}
			return nil, errors.New("connection refused")
		},
		submitter:   &recordingSubmitter{},
		minInterval: time.Millisecond,
		maxInterval: 2 * time.Millisecond,
		logger:      zap.NewNop(),
	}

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 3, attempts)
}

func doGet(t *testing.T, l *RESTListener, path string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestRESTRelayVAA(t *testing.T) {
	h := newHarness(t)
	l := NewRESTListener(zap.NewNop(), h.ingestor, "")
	raw := vaatest.Defaults().Build(t)

	code, body := doGet(t, l, RelayRoute+base64.URLEncoding.EncodeToString(raw))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, MessageScheduled, body.Message)

	code, body = doGet(t, l, RelayRoute+base64.StdEncoding.EncodeToString(raw))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, store.LocationIncoming, body.Message)
}

func TestRESTRelayVAARejections(t *testing.T) {
	h := newHarness(t)
	l := NewRESTListener(zap.NewNop(), h.ingestor, "")

	code, body := doGet(t, l, RelayRoute+"!!!")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid base64 VAA", body.Message)

	code, body = doGet(t, l, RelayRoute+base64.StdEncoding.EncodeToString([]byte{0x01, 0x00}))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, validator.ReasonUnparsable, body.Message)
}

func TestRESTRoutes(t *testing.T) {
	l := NewRESTListener(zap.NewNop(), &recordingSubmitter{}, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["/relayvaa/<vaaInBase64>"]`, rec.Body.String())

	code, body := doGet(t, l, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Message)
}

func TestDecodeBase64Alphabets(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x01}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		got, err := decodeBase64(enc.EncodeToString(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	}

	_, err := decodeBase64("")
	assert.Error(t, err)
}
