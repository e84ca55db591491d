package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/domain/workflow"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// PromptPath is appended to the base address for submissions.
const PromptPath = "/prompt"

// Envelope is the request body of one submission.
type Envelope struct {
	Prompt   *workflow.Template `json:"prompt"`
	ClientID id.ClientID        `json:"client_id"`
}

// Ack is the backend's reply to an accepted submission.
type Ack struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Raw        map[string]interface{} `json:"-"` // nil unless the reply is an object
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records submission outcomes and latency.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithTimeout bounds each submission round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Dispatcher posts prompts to one backend.
type Dispatcher struct {
	client   *resty.Client
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// New creates a dispatcher for the backend at baseURL. The address is
// used as given apart from a trailing slash.
func New(baseURL string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		endpoint: strings.TrimRight(baseURL, "/") + PromptPath,
		timeout:  30 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	// Pooled transport only; resubmission is left to the next input change
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	d.client = resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetTimeout(d.timeout).
		SetRetryCount(0).
		SetJSONMarshaler(sonic.ConfigStd.Marshal).
		SetJSONUnmarshaler(sonic.ConfigStd.Unmarshal).
		SetHeader("User-Agent", "dreamstream/1.0").
		SetHeader("Accept", "application/json")

	return d
}

// Endpoint returns the submission URL.
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

// Submit posts tmpl on behalf of clientID. A 2xx reply must carry a JSON
// body; anything else is ErrRejected. Network and context failures are
// ErrTransport.
func (d *Dispatcher) Submit(ctx context.Context, tmpl *workflow.Template, clientID id.ClientID) (*Ack, error) {
	timer := monitoring.NewTimer(d.metrics)

	ack, err := d.submit(ctx, tmpl, clientID)
	elapsed := timer.Stop(Outcome(err))

	if err != nil {
		d.logger.Warn("Prompt submission failed",
			zap.String("client_id", clientID.String()),
			zap.String("outcome", Outcome(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	d.logger.Debug("Prompt submitted",
		zap.String("client_id", clientID.String()),
		zap.String("prompt_id", ack.PromptID),
		zap.Int("number", ack.Number),
		zap.Duration("elapsed", elapsed))
	return ack, nil
}

func (d *Dispatcher) submit(ctx context.Context, tmpl *workflow.Template, clientID id.ClientID) (*Ack, error) {
	if tmpl == nil {
		return nil, &Error{Kind: ErrRejected, Err: errors.New("nil template")}
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(Envelope{Prompt: tmpl, ClientID: clientID}).
		Post(d.endpoint)
	if err != nil {
		return nil, transportError(err)
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		return nil, rejectedError(resp.StatusCode(), body, nil)
	}

	ack, err := decodeAck(body)
	if err != nil {
		return nil, rejectedError(resp.StatusCode(), body, err)
	}
	return ack, nil
}

// decodeAck accepts any JSON reply. Only an object fills the Ack fields.
func decodeAck(body []byte) (*Ack, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("reply is empty")
	}
	var decoded interface{}
	if err := sonic.Unmarshal(body, &decoded); err != nil {
		return nil, errors.New("reply is not JSON")
	}

	raw, ok := decoded.(map[string]interface{})
	if !ok {
		return &Ack{}, nil
	}

	ack := &Ack{Raw: raw}
	if err := sonic.Unmarshal(body, ack); err != nil {
		// Unexpected field types still count as an accepted reply
		ack = &Ack{Raw: raw}
	}
	return ack, nil
}
