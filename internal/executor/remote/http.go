package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/BrowserTasks/backend/internal/domain/execution"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/BrowserTasks/backend/internal/shared/types"
)

const (
	// RunPath is the worker endpoint that streams one run as NDJSON
	RunPath = "/v1/runs"

	maxLineSize = 1024 * 1024
)

// errServerStatus marks a 5xx answer so the breaker counts it
type errServerStatus struct {
	code int
	body string
}

func (e *errServerStatus) Error() string {
	return fmt.Sprintf("executor returned %d: %s", e.code, e.body)
}

// HTTPExecutor runs tasks on a worker that streams newline-delimited JSON
// events in the response body.
type HTTPExecutor struct {
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *logging.Logger
}

// NewHTTP creates a client for the worker at baseURL
func NewHTTP(baseURL string, logger *logging.Logger) *HTTPExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("executor.http")

	// Only the pooled transport is borrowed; runs are not idempotent and
	// are never retried.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	// No client timeout: a run streams for as long as the task takes and
	// is bounded by the run context instead.
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "BrowserTasks-Executor/1.0").
		SetHeader("Accept", "application/x-ndjson").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetRetryCount(0)
	client.SetTransport(retryClient.HTTPClient.Transport)

	return &HTTPExecutor{
		client:  client,
		breaker: newBreaker("executor-http", logger),
		logger:  logger,
	}
}

// Name identifies the executor in logs and metrics
func (e *HTTPExecutor) Name() string { return "http" }

// SupportsCancel reports that cancelling the run context aborts the request
func (e *HTTPExecutor) SupportsCancel() bool { return true }

// Run posts the request and returns a stream over the response body
func (e *HTTPExecutor) Run(ctx context.Context, req execution.Request) (execution.Stream, error) {
	headers := make(map[string]string)
	tracing.InjectTraceContext(ctx, headers)

	resp, err := resilience.Call(e.breaker, func() (*resty.Response, error) {
		resp, err := e.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(newRunRequest(req)).
			SetDoNotParseResponse(true).
			Post(RunPath)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			body := readSnippet(resp.RawBody())
			return nil, &errServerStatus{code: resp.StatusCode(), body: body}
		}
		return resp, nil
	})
	if err != nil {
		e.logger.Warn("failed to start run",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		return nil, fromHTTP(err)
	}

	if resp.StatusCode() != http.StatusOK {
		body := readSnippet(resp.RawBody())
		return nil, fmt.Errorf("executor rejected run (%d): %s", resp.StatusCode(), body)
	}

	body := resp.RawBody()
	return &ndjsonStream{body: body, reader: bufio.NewReaderSize(body, 64*1024)}, nil
}

func readSnippet(body io.ReadCloser) string {
	defer body.Close()
	b, _ := io.ReadAll(io.LimitReader(body, 512))
	return strings.TrimSpace(string(b))
}

func fromHTTP(err error) error {
	var status *errServerStatus
	switch {
	case resilience.IsRejection(err):
		return fmt.Errorf("%w: executor circuit open", execution.ErrModelUnavailable)
	case errors.As(err, &status) && (status.code == http.StatusServiceUnavailable || status.code == http.StatusBadGateway):
		return fmt.Errorf("%w: %s", execution.ErrModelUnavailable, status.body)
	default:
		return err
	}
}

type ndjsonStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	once   sync.Once
}

func (s *ndjsonStream) Recv() (types.Event, error) {
	for {
		line, err := s.readLine()
		if len(line) > 0 {
			var ev types.Event
			if uerr := sonic.Unmarshal(line, &ev); uerr != nil {
				return types.Event{}, fmt.Errorf("decode executor event: %w", uerr)
			}
			if ev.Type == "" {
				return types.Event{}, fmt.Errorf("decode executor event: missing type")
			}
			return ev, nil
		}
		if err != nil {
			return types.Event{}, err
		}
	}
}

// readLine returns the next non-empty line without its terminator
func (s *ndjsonStream) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, fmt.Errorf("executor event exceeds %d bytes", maxLineSize)
		}
		if err != nil {
			return bytes.TrimSpace(buf), err
		}
		if !isPrefix {
			return bytes.TrimSpace(buf), nil
		}
	}
}

func (s *ndjsonStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}
