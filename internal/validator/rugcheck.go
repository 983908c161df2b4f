package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

// RugRisk is one flagged risk factor in a report.
type RugRisk struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Level       string  `json:"level"`
	Score       float64 `json:"score"`
}

// RugReport is the token risk report.
type RugReport struct {
	Score      float64   `json:"score"`
	Normalised float64   `json:"score_normalised"`
	Risks      []RugRisk `json:"risks"`
}

// RugCheck fetches token risk reports.
type RugCheck struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewRugCheck builds the client. breaker may be nil.
func NewRugCheck(baseURL string, timeout time.Duration, breaker *gobreaker.CircuitBreaker, log zerolog.Logger) *RugCheck {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	return &RugCheck{
		http:    httpClient,
		breaker: breaker,
		log:     log.With().Str("component", "rugcheck").Logger(),
	}
}

// Report returns the risk report for a mint.
func (r *RugCheck) Report(ctx context.Context, mint string) (*RugReport, error) {
	var report RugReport
	call := func() (interface{}, error) {
		resp, err := r.http.R().
			SetContext(ctx).
			SetResult(&report).
			Get("/v1/tokens/" + mint + "/report")
		if err != nil {
			return nil, errs.Classify(err)
		}
		if resp.StatusCode() == 429 {
			return nil, fmt.Errorf("%w: rugcheck", errs.ErrRateLimited)
		}
		if resp.IsError() {
			return nil, errs.Classify(fmt.Errorf("rugcheck status %d for %s", resp.StatusCode(), mint))
		}
		return nil, nil
	}

	var err error
	if r.breaker == nil {
		_, err = call()
	} else {
		_, err = r.breaker.Execute(call)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = fmt.Errorf("%w: rugcheck circuit open", errs.ErrNetworkTransient)
		}
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
