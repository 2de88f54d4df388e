package worktime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPComputer delegates segment computation to a remote service speaking
// the ComputeRequest payload. The service persists final results itself;
// only intermediate calls return segments.
type HTTPComputer struct {
	URL    string
	Client *http.Client
}

func NewHTTPComputer(url string, timeout time.Duration) *HTTPComputer {
	return &HTTPComputer{URL: url, Client: &http.Client{Timeout: timeout}}
}

// ComputeResponse is the remote service's reply.
type ComputeResponse struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Segments []ComputeSegment `json:"segments,omitempty"`
}

type ComputeSegment struct {
	Category Category        `json:"category"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Hours    decimal.Decimal `json:"hours"`
}

func (c *HTTPComputer) ComputeSegments(ctx context.Context, req ComputeRequest) ([]Segment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compute request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build compute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrComputationUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrComputationUnavailable, err)
	}

	var out ComputeResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: invalid response: %v", ErrComputationUnavailable, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{Resource: "work interval", ID: string(req.IntervalID)}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrOutOfRange, out.Error)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", ErrComputationUnavailable, resp.StatusCode, out.Error)
	case !out.Success:
		return nil, fmt.Errorf("%w: %s", ErrComputationUnavailable, out.Error)
	}

	if !req.Intermediate || len(out.Segments) == 0 {
		return nil, nil
	}
	segments := make([]Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		if !s.Category.Valid() {
			return nil, fmt.Errorf("%w: %q from computation service", ErrUnknownCategory, s.Category)
		}
		segments = append(segments, Segment{
			IntervalID: req.IntervalID,
			Category:   s.Category,
			Start:      s.Start,
			End:        s.End,
			Hours:      s.Hours,
		})
	}
	return segments, nil
}
