package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consentmodels "klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/receipt/models"
	"klarogeo/internal/receipt/slot"
)

// TestBufferKeepsMostRecent verifies eleven writes leave ten receipts with the
// oldest dropped and the newest last.
func TestBufferKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	b := NewBuffer(slot.NewMemory(), DefaultLimit, logger.Discard())

	for i := range 11 {
		require.NoError(t, b.Append(ctx, models.Receipt{ReceiptID: fmt.Sprintf("r%d", i)}))
	}

	got := b.List(ctx)
	require.Len(t, got, 10)
	assert.Equal(t, "r1", got[0].ReceiptID)
	assert.Equal(t, "r10", got[9].ReceiptID)
}

// TestBufferCorruptSlotReadsEmpty verifies corrupt stored data is replaced
// rather than propagated.
func TestBufferCorruptSlotReadsEmpty(t *testing.T) {
	ctx := context.Background()
	s := slot.NewMemory()
	require.NoError(t, s.Store(ctx, []byte("{not json")))

	b := NewBuffer(s, 0, logger.Discard())
	assert.Empty(t, b.List(ctx))

	require.NoError(t, b.Append(ctx, models.Receipt{ReceiptID: "fresh"}))
	got := b.List(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].ReceiptID)
}

type failingSlot struct{}

func (failingSlot) Load(context.Context) ([]byte, error) { return nil, fmt.Errorf("storage disabled") }
func (failingSlot) Store(context.Context, []byte) error  { return fmt.Errorf("storage disabled") }

func TestReceiptStrictChoices(t *testing.T) {
	var r models.Receipt
	require.NoError(t, json.Unmarshal([]byte(`{"receipt_id":"x","consent_choices":{"a":true,"b":"true","c":1,"d":false}}`), &r))
	assert.Equal(t, "x", r.ReceiptID)
	assert.Equal(t, map[string]bool{"a": true, "b": false, "c": false, "d": false}, r.ConsentChoices)
}

func TestLoggingEnabledPrecedence(t *testing.T) {
	off, on := false, true

	assert.True(t, LoggingEnabled(nil))
	assert.False(t, LoggingEnabled(&off))

	log := datalayer.NewLog()
	log.Append(datalayer.NewEvent(consentmodels.EventConfigLoaded, map[string]any{consentmodels.KeyEnableConsentLogging: true}))
	log.Append(datalayer.NewEvent(consentmodels.EventConfigLoaded, map[string]any{consentmodels.KeyEnableConsentLogging: false}))
	log.Append(datalayer.NewEvent("page_view", nil))
	assert.False(t, LoggingEnabled(&on, log))

	log.Append(datalayer.NewEvent("bad", map[string]any{consentmodels.KeyEnableConsentLogging: "yes"}))
	assert.False(t, LoggingEnabled(&on, log))
}

// TestLoggingEnabledPrefersQueuedEvents verifies a flag still waiting in the
// queue wins over older log entries.
func TestLoggingEnabledPrefersQueuedEvents(t *testing.T) {
	on := true
	log := datalayer.NewLog()
	log.Append(datalayer.NewEvent(consentmodels.EventConfigLoaded, map[string]any{consentmodels.KeyEnableConsentLogging: true}))
	q := datalayer.NewQueue(log, nil)
	t.Cleanup(q.Close)

	assert.True(t, LoggingEnabled(&on, q, log))

	q.Push(datalayer.NewEvent(consentmodels.EventConfigLoaded, map[string]any{consentmodels.KeyEnableConsentLogging: false}))
	q.Push(datalayer.NewEvent("page_view", nil))
	require.Equal(t, 2, q.Len())
	assert.False(t, LoggingEnabled(&on, q, log))
}

type capturedRequest struct {
	action string
	nonce  string
	data   models.Receipt
}

func receiptServer(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		var rec models.Receipt
		_ = json.Unmarshal([]byte(r.PostForm.Get("receipt_data")), &rec)
		mu.Lock()
		got = append(got, capturedRequest{action: r.PostForm.Get("action"), nonce: r.PostForm.Get("nonce"), data: rec})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestClientSend(t *testing.T) {
	srv, got := receiptServer(t, http.StatusOK, `{"success":true,"data":{"id":7}}`)
	c := NewClient(srv.URL, "klaro_geo_log_consent", WithNonce("n-1"))

	res := c.Send(context.Background(), models.Receipt{ReceiptID: "r1", ConsentChoices: map[string]bool{"a": true}})
	assert.True(t, res.Success)
	assert.JSONEq(t, `{"id":7}`, string(res.Data))

	require.Len(t, *got, 1)
	assert.Equal(t, "klaro_geo_log_consent", (*got)[0].action)
	assert.Equal(t, "n-1", (*got)[0].nonce)
	assert.Equal(t, "r1", (*got)[0].data.ReceiptID)
}

func TestClientFailuresBecomeResults(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"success":true}`},
		{"malformed json", http.StatusOK, `<html>`},
		{"explicit failure", http.StatusOK, `{"success":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := receiptServer(t, tt.status, tt.body)
			res := NewClient(srv.URL, "a").Send(context.Background(), models.Receipt{})
			assert.False(t, res.Success)
		})
	}

	res := NewClient("http://127.0.0.1:1", "a").Send(context.Background(), models.Receipt{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []models.Receipt
	res  models.Result
}

func (f *fakeSender) Send(_ context.Context, r models.Receipt) models.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
	return f.res
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRecorderRecordsAndSends(t *testing.T) {
	sender := &fakeSender{res: models.Result{Success: true}}
	buffer := NewBuffer(slot.NewMemory(), DefaultLimit, nil)
	r := NewRecorder(buffer,
		WithSender(sender),
		WithClock(fixedClock),
		WithContext(models.Context{TemplateName: "eu", CountryCode: "DE", AdminOverride: true}),
	)

	state := consentmodels.State{"svc-a": false, "svc-b": true}
	receipt := r.Record(state)
	r.Wait()

	state["svc-a"] = true
	assert.Equal(t, map[string]bool{"svc-a": false, "svc-b": true}, receipt.ConsentChoices)
	assert.Equal(t, fixedClock().Unix(), receipt.Timestamp)
	assert.True(t, strings.HasPrefix(receipt.ReceiptID, fmt.Sprintf("receipt_%d_", fixedClock().UnixMilli())))
	assert.Equal(t, "DE", receipt.CountryCode)
	assert.True(t, receipt.AdminOverride)

	stored := r.Stored(context.Background())
	require.Len(t, stored, 1)
	assert.Equal(t, receipt.ReceiptID, stored[0].ReceiptID)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, receipt.ReceiptID, sender.sent[0].ReceiptID)
}

func TestRecorderSkipsSendWhenDisabled(t *testing.T) {
	sender := &fakeSender{}
	r := NewRecorder(NewBuffer(slot.NewMemory(), 0, nil),
		WithSender(sender),
		WithLoggingFlag(func() bool { return false }),
	)
	r.Record(consentmodels.State{"a": true})
	r.Wait()
	assert.Empty(t, sender.sent)
	assert.Len(t, r.Stored(context.Background()), 1)
}

// TestRecorderSurvivesStorageFailure verifies a broken slot neither panics
// nor prevents delivery.
func TestRecorderSurvivesStorageFailure(t *testing.T) {
	sender := &fakeSender{res: models.Result{Success: false, Error: "boom"}}
	var results []models.Result
	r := NewRecorder(NewBuffer(failingSlot{}, 0, nil),
		WithSender(sender),
		WithResultHook(func(_ models.Receipt, res models.Result) { results = append(results, res) }),
	)

	require.NotPanics(t, func() { r.Record(consentmodels.State{"a": true}) })
	r.Wait()
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Empty(t, r.Stored(context.Background()))
}

func TestNewIDUnique(t *testing.T) {
	now := fixedClock()
	assert.NotEqual(t, NewID(now), NewID(now))
}
