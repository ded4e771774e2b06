package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// secretHeader authenticates internal job invocations.
const secretHeader = "X-Cron-Secret"

// Invoker executes one job. The production implementation calls the job's
// HTTP target; tests substitute a fake.
type Invoker interface {
	Invoke(ctx context.Context, job Job, secret string) error
}

// HTTPInvoker POSTs to the job target relative to BaseURL, passing the cron
// secret in a header. 5xx responses are transient so the retry layer gets a
// chance; 4xx responses are not.
type HTTPInvoker struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, job Job, secret string) error {
	target := job.Target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = h.BaseURL + "/" + strings.TrimLeft(target, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return execErr(CodeValidation, fmt.Errorf("build request for job %q: %w", job.Name, err))
	}
	req.Header.Set(secretHeader, secret)

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke job %q: %w", job.Name, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return execErr(CodeTransientIO, fmt.Errorf("job %q target returned %d", job.Name, resp.StatusCode))
	default:
		return execErr(CodeValidation, fmt.Errorf("job %q target returned %d", job.Name, resp.StatusCode))
	}
}
