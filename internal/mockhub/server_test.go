package mockhub

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/disbursement-service/pkg/fspiop"
	"github.com/transfa/disbursement-service/pkg/hubclient"
)

type callback struct {
	path          string
	escapedPath   string
	source        string
	destination   string
	correlationID string
	body          []byte
}

type callbackSink struct {
	mu    sync.Mutex
	calls []callback
}

func (c *callbackSink) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.calls = append(c.calls, callback{
			path:          r.URL.Path,
			escapedPath:   r.URL.EscapedPath(),
			source:        r.Header.Get(fspiop.HeaderSource),
			destination:   r.Header.Get(fspiop.HeaderDestination),
			correlationID: r.Header.Get(fspiop.HeaderCorrelationID),
			body:          body,
		})
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func (c *callbackSink) all() []callback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]callback(nil), c.calls...)
}

func newTestHub(t *testing.T, opts Options) (*Server, *hubclient.Client, *callbackSink) {
	t.Helper()
	sink := &callbackSink{}
	sinkServer := httptest.NewServer(sink.handler())
	t.Cleanup(sinkServer.Close)

	opts.CallbackURL = sinkServer.URL
	hub := New(opts)
	hubServer := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		hub.Close()
		hubServer.Close()
	})
	return hub, hubclient.NewClient(hubServer.URL, "pension-fund", opts.Signer), sink
}

func TestLookupIsAnsweredWithParty(t *testing.T) {
	hub, client, sink := newTestHub(t, Options{HubID: "switch"})

	require.NoError(t, client.GetParties(context.Background(), "MSISDN", "22507000001", "corr-1"))
	hub.Wait()

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "/parties/MSISDN/22507000001", calls[0].path)
	assert.Equal(t, "switch", calls[0].source)
	assert.Equal(t, "pension-fund", calls[0].destination)
	assert.Equal(t, "corr-1", calls[0].correlationID)
	var resp fspiop.PartiesResponse
	require.NoError(t, json.Unmarshal(calls[0].body, &resp))
	assert.Equal(t, "payee-fsp", resp.Party.PartyIDInfo.FSPID)
	assert.Equal(t, "22507000001", resp.Party.PartyIDInfo.PartyIdentifier)
}

func TestLookupCallbackPathIsEscaped(t *testing.T) {
	hub, client, sink := newTestHub(t, Options{})

	require.NoError(t, client.GetParties(context.Background(), "PERSONAL_ID", "CI/0042 B", "corr-1"))
	hub.Wait()

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "/parties/PERSONAL_ID/CI%2F0042%20B", calls[0].escapedPath)
	require.Len(t, hub.Requests(), 1)
	assert.Equal(t, "CI/0042 B", hub.Requests()[0].Identifier)
	var resp fspiop.PartiesResponse
	require.NoError(t, json.Unmarshal(calls[0].body, &resp))
	assert.Equal(t, "CI/0042 B", resp.Party.PartyIDInfo.PartyIdentifier)
}

func TestUnclaimedFulfilmentsArePruned(t *testing.T) {
	hub, client, sink := newTestHub(t, Options{})
	ctx := context.Background()

	quoteCondition := func(quoteID string) string {
		t.Helper()
		before := len(sink.all())
		require.NoError(t, client.PostQuote(ctx, fspiop.QuoteRequest{QuoteID: quoteID, TransactionID: quoteID}, "payee-fsp"))
		hub.Wait()
		calls := sink.all()
		require.Len(t, calls, before+1)
		var quote fspiop.QuoteResponse
		require.NoError(t, json.Unmarshal(calls[before].body, &quote))
		return quote.Condition
	}

	hub.Drop(PhaseTransfer)
	dropped := quoteCondition("q-1")
	require.NoError(t, client.PostTransfer(ctx, fspiop.TransferRequest{TransferID: "t-1", Condition: dropped}, "payee-fsp"))
	hub.Wait()
	assert.Zero(t, hub.PendingFulfilments())

	hub.Reset()
	hub.SetTransferResult(func(fspiop.TransferRequest) *fspiop.TransferResponse {
		return &fspiop.TransferResponse{TransferState: "ABORTED"}
	})
	aborted := quoteCondition("q-2")
	require.NoError(t, client.PostTransfer(ctx, fspiop.TransferRequest{TransferID: "t-2", Condition: aborted}, "payee-fsp"))
	hub.Wait()
	assert.Zero(t, hub.PendingFulfilments())

	quoteCondition("q-3")
	assert.Equal(t, 1, hub.PendingFulfilments())
	hub.now = func() time.Time { return time.Now().UTC().Add(2 * quoteLifetime) }
	quoteCondition("q-4")
	assert.Equal(t, 1, hub.PendingFulfilments())
}

func TestQuoteConditionMatchesTransferFulfilment(t *testing.T) {
	hub, client, sink := newTestHub(t, Options{})
	ctx := context.Background()

	require.NoError(t, client.PostQuote(ctx, fspiop.QuoteRequest{QuoteID: "q-1", TransactionID: "t-1", Amount: fspiop.Money{Currency: "XOF", Amount: "100"}}, "payee-fsp"))
	hub.Wait()
	var quote fspiop.QuoteResponse
	require.NoError(t, json.Unmarshal(sink.all()[0].body, &quote))
	assert.Equal(t, fspiop.Money{Currency: "XOF", Amount: "100"}, quote.TransferAmount)
	assert.NotEmpty(t, quote.Condition)
	_, err := time.Parse(time.RFC3339Nano, quote.Expiration)
	assert.NoError(t, err)

	require.NoError(t, client.PostTransfer(ctx, fspiop.TransferRequest{TransferID: "t-1", Condition: quote.Condition}, "payee-fsp"))
	hub.Wait()
	calls := sink.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "/transfers/t-1", calls[1].path)
	var transfer fspiop.TransferResponse
	require.NoError(t, json.Unmarshal(calls[1].body, &transfer))
	assert.Equal(t, fspiop.TransferStateCommitted, transfer.TransferState)
	preimage, err := base64.RawURLEncoding.DecodeString(transfer.Fulfilment)
	require.NoError(t, err)
	sum := sha256.Sum256(preimage)
	assert.Equal(t, quote.Condition, base64.RawURLEncoding.EncodeToString(sum[:]))
}

func TestFailureHookSendsErrorCallback(t *testing.T) {
	hub, client, sink := newTestHub(t, Options{})
	hub.SetFailure(FailIdentifiers("22507000009"))

	require.NoError(t, client.GetParties(context.Background(), "MSISDN", "22507000009", "c-1"))
	require.NoError(t, client.GetParties(context.Background(), "MSISDN", "22507000001", "c-2"))
	hub.Wait()

	paths := map[string]string{}
	for _, c := range sink.all() {
		paths[c.correlationID] = c.path
		if strings.HasSuffix(c.path, "/error") {
			var resp fspiop.ErrorResponse
			require.NoError(t, json.Unmarshal(c.body, &resp))
			assert.Equal(t, "3204", resp.ErrorInformation.ErrorCode)
		}
	}
	assert.Equal(t, "/parties/MSISDN/22507000009/error", paths["c-1"])
	assert.Equal(t, "/parties/MSISDN/22507000001", paths["c-2"])
}

func TestDroppedPhaseGetsNoCallback(t *testing.T) {
	hub, client, sink := newTestHub(t, Options{})
	hub.Drop(PhaseQuote)

	require.NoError(t, client.PostQuote(context.Background(), fspiop.QuoteRequest{QuoteID: "q-1"}, "payee-fsp"))
	hub.Wait()

	assert.Empty(t, sink.all())
	require.Len(t, hub.Requests(), 1)

	hub.Reset()
	assert.Empty(t, hub.Requests())
	require.NoError(t, client.PostQuote(context.Background(), fspiop.QuoteRequest{QuoteID: "q-2"}, "payee-fsp"))
	hub.Wait()
	assert.Len(t, sink.all(), 1)
}

func TestRequestValidation(t *testing.T) {
	_, client, _ := newTestHub(t, Options{})

	err := client.PostQuote(context.Background(), fspiop.QuoteRequest{}, "payee-fsp")

	var hubErr *hubclient.ErrorResponse
	require.ErrorAs(t, err, &hubErr)
	assert.Equal(t, http.StatusBadRequest, hubErr.StatusCode)
	assert.Equal(t, "3102", hubErr.Info.ErrorCode)
}

func TestSignatureRequiredWhenConfigured(t *testing.T) {
	signer := fspiop.NewSigner("shared-secret")
	hub, signed, sink := newTestHub(t, Options{Signer: signer})
	unsigned := *signed
	unsigned.Signer = nil

	err := unsigned.GetParties(context.Background(), "MSISDN", "22507000001", "c-1")
	var hubErr *hubclient.ErrorResponse
	require.ErrorAs(t, err, &hubErr)
	assert.Equal(t, http.StatusUnauthorized, hubErr.StatusCode)
	assert.Equal(t, "3105", hubErr.Info.ErrorCode)

	require.NoError(t, signed.GetParties(context.Background(), "MSISDN", "22507000001", "c-2"))
	hub.Wait()
	assert.Len(t, sink.all(), 1)
	assert.Len(t, hub.Requests(), 1)
}
