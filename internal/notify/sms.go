package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const defaultSMSTimeout = 15 * time.Second

// SMSClient sends SMS through the Twilio Messages API.
type SMSClient struct {
	accountSID string
	authToken  string
	from       string
	rest       *twilio.RestClient
}

// NewSMSClient returns a client for the given account. A non-empty baseURL redirects API calls
// to another host, such as a Twilio-compatible gateway or a test server.
func NewSMSClient(accountSID, authToken, from, baseURL string) *SMSClient {
	hc := &http.Client{Timeout: defaultSMSTimeout}
	if baseURL != "" {
		if u, err := url.Parse(strings.TrimRight(baseURL, "/")); err == nil && u.Host != "" {
			hc.Transport = &baseURLTransport{base: u, next: http.DefaultTransport}
		}
	}

	tc := &twclient.Client{
		Credentials: twclient.NewCredentials(accountSID, authToken),
		HTTPClient:  hc,
	}
	tc.SetAccountSid(accountSID)

	return &SMSClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		rest:       twilio.NewRestClientWithParams(twilio.ClientParams{Client: tc}),
	}
}

// SendSMS posts one message. The body is never logged.
func (c *SMSClient) SendSMS(ctx context.Context, to, body string) error {
	if c.accountSID == "" || c.authToken == "" {
		return fmt.Errorf("sms: account not configured")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sms: %w", err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	if _, err := c.rest.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("sms: send failed: %w", err)
	}
	return nil
}

// baseURLTransport rewrites the scheme and host of every request to base.
type baseURLTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *baseURLTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	if t.base.Path != "" {
		r.URL.Path = t.base.Path + r.URL.Path
	}
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}
