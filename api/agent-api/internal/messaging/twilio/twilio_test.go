// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_twilio_messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
	"github.com/praxisvoice/pkg/commons"
)

const (
	testAccountSID = "AC5e1f0d9b2a4c4e8f9b1d3c6a7e2f4a01"
	testFrom       = "+4930120840"

	acceptedJSON = `{
		"sid": "SM2fe7f0b1c9d34f5e8a6b7c8d9e0f1a2b",
		"status": "queued",
		"to": "+4915799912345",
		"from": "+4930120840",
		"num_segments": "1"
	}`
)

type capturedRequest struct {
	method string
	url    string
	form   url.Values
}

// fakeTransport stands in for the SDK's base client. Like the real one, it
// turns non-2xx responses into a TwilioRestError instead of returning the
// raw response.
type fakeTransport struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
	err      error
}

func (f *fakeTransport) AccountSid() string       { return testAccountSID }
func (f *fakeTransport) SetTimeout(time.Duration) {}

func (f *fakeTransport) SendRequest(method string, rawURL string, data url.Values, headers map[string]interface{}) (*http.Response, error) {
	f.mu.Lock()
	form := make(url.Values, len(data))
	for k, v := range data {
		form[k] = append([]string(nil), v...)
	}
	f.requests = append(f.requests, capturedRequest{method: method, url: rawURL, form: form})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.status >= 300 {
		restErr := &twilioclient.TwilioRestError{}
		if err := json.Unmarshal([]byte(f.body), restErr); err != nil {
			return nil, err
		}
		return nil, restErr
	}
	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func (f *fakeTransport) lastRequest(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestGateway(t *testing.T, fake *fakeTransport, mutate ...func(*Config)) *Gateway {
	t.Helper()
	config := DefaultConfig()
	config.AccountSID = testAccountSID
	config.AuthToken = "auth-token"
	config.FromNumber = testFrom
	for _, m := range mutate {
		m(&config)
	}
	g, err := NewGateway(config, commons.NewNopLogger())
	require.NoError(t, err)
	g.client = twilio.NewRestClientWithParams(twilio.ClientParams{Client: fake})
	return g
}

func TestNewGatewayValidation(t *testing.T) {
	_, err := NewGateway(Config{AuthToken: "x", FromNumber: testFrom}, nil)
	require.ErrorIs(t, err, ErrMissingAccountSID)

	_, err = NewGateway(Config{AccountSID: testAccountSID, FromNumber: testFrom}, nil)
	require.ErrorIs(t, err, ErrMissingAuthToken)

	_, err = NewGateway(Config{AccountSID: testAccountSID, AuthToken: "x"}, nil)
	require.ErrorIs(t, err, ErrMissingSender)

	_, err = NewGateway(Config{AccountSID: testAccountSID, AuthToken: "x", MessagingServiceSID: "MG1"}, nil)
	require.NoError(t, err)
}

func TestGatewaySend(t *testing.T) {
	fake := &fakeTransport{status: http.StatusCreated, body: acceptedJSON}
	g := newTestGateway(t, fake)

	result, err := g.Send(context.Background(), internal_capability.SMSMessage{
		To:        "0157 9991-2345",
		Body:      "Ihr Rückruf zur Befundbesprechung ist für morgen 9 Uhr geplant.",
		Reference: "call-7f3a",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "SM2fe7f0b1c9d34f5e8a6b7c8d9e0f1a2b", result.MessageID)
	assert.Empty(t, result.ErrorMessage)

	req := fake.lastRequest(t)
	assert.Equal(t, http.MethodPost, strings.ToUpper(req.method))
	assert.Contains(t, req.url, "/Accounts/"+testAccountSID+"/Messages.json")
	assert.Equal(t, "+4915799912345", req.form.Get("To"))
	assert.Equal(t, testFrom, req.form.Get("From"))
	assert.Equal(t, "Ihr Rückruf zur Befundbesprechung ist für morgen 9 Uhr geplant.", req.form.Get("Body"))
	assert.Empty(t, req.form.Get("MessagingServiceSid"))
}

func TestGatewaySendUsesMessagingService(t *testing.T) {
	fake := &fakeTransport{status: http.StatusCreated, body: acceptedJSON}
	g := newTestGateway(t, fake, func(c *Config) {
		c.FromNumber = ""
		c.MessagingServiceSID = "MG8f1e2d3c4b5a69788796a5b4c3d2e1f0"
		c.StatusCallbackURL = "https://agent.praxisvoice.de/v1/sms/status"
	})

	_, err := g.Send(context.Background(), internal_capability.SMSMessage{To: "+4915799912345", Body: "Test"})
	require.NoError(t, err)

	req := fake.lastRequest(t)
	assert.Equal(t, "MG8f1e2d3c4b5a69788796a5b4c3d2e1f0", req.form.Get("MessagingServiceSid"))
	assert.Empty(t, req.form.Get("From"))
	assert.Equal(t, "https://agent.praxisvoice.de/v1/sms/status", req.form.Get("StatusCallback"))
}

func TestGatewaySendRejected(t *testing.T) {
	fake := &fakeTransport{
		status: http.StatusBadRequest,
		body:   `{"code": 21211, "message": "The 'To' number is not a valid phone number.", "status": 400}`,
	}
	g := newTestGateway(t, fake)

	result, err := g.Send(context.Background(), internal_capability.SMSMessage{To: "+49157", Body: "Test"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "[21211] The 'To' number is not a valid phone number.", result.ErrorMessage)
}

func TestGatewaySendFailedStatus(t *testing.T) {
	fake := &fakeTransport{
		status: http.StatusCreated,
		body:   `{"sid": "SM00", "status": "failed", "error_message": "Unreachable destination handset"}`,
	}
	g := newTestGateway(t, fake)

	result, err := g.Send(context.Background(), internal_capability.SMSMessage{To: "+4915799912345", Body: "Test"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Unreachable destination handset", result.ErrorMessage)
	assert.Equal(t, "SM00", result.MessageID)
}

func TestGatewaySendTransportError(t *testing.T) {
	fake := &fakeTransport{err: errors.New("connection reset")}
	g := newTestGateway(t, fake)

	_, err := g.Send(context.Background(), internal_capability.SMSMessage{To: "+4915799912345", Body: "Test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio send sms")
}

func TestGatewaySendCanceledContext(t *testing.T) {
	fake := &fakeTransport{status: http.StatusCreated, body: acceptedJSON}
	g := newTestGateway(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Send(ctx, internal_capability.SMSMessage{To: "+4915799912345", Body: "Test"})
	require.ErrorIs(t, err, context.Canceled)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.requests)
}
