package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLowConfidence means the oracle answered below the threshold.
	ErrLowConfidence = errors.New("oracle confidence below threshold")
	// ErrMalformed means the oracle's answer could not be used.
	ErrMalformed = errors.New("malformed oracle response")
)

// Request is what the oracle sees of an artifact.
type Request struct {
	Path        string
	MIME        string
	Hints       []string // allowed semantic types and keywords
	Alt         string
	PageContext string
}

// Oracle classifies image bytes. A refusal is returned as *RejectionError.
type Oracle interface {
	Classify(ctx context.Context, req Request) (Judgement, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req Request) (Judgement, error)

func (f OracleFunc) Classify(ctx context.Context, req Request) (Judgement, error) {
	return f(ctx, req)
}

// RejectionError is an explicit refusal by the oracle provider.
type RejectionError struct {
	Reason            string
	RegionUnsupported bool
}

func (e *RejectionError) Error() string {
	if e.RegionUnsupported {
		return "oracle rejected request: region not supported: " + e.Reason
	}
	return "oracle rejected request: " + e.Reason
}

// IsRegionRejection reports whether err carries a region rejection.
func IsRegionRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej) && rej.RegionUnsupported
}

var regionMarkers = []string{
	"region not supported",
	"unsupported_country_region_territory",
	"country, region, or territory not supported",
	"not available in your region",
	"not available in your country",
}

var rejectionMarkers = []string{
	"invalid_request_error",
	"permission_error",
	"request not allowed",
	"could not process image",
}

// rejectionFromError recognises provider refusals in error text. Other errors
// are returned unchanged.
func rejectionFromError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, m := range regionMarkers {
		if strings.Contains(msg, m) {
			return &RejectionError{Reason: err.Error(), RegionUnsupported: true}
		}
	}
	for _, m := range rejectionMarkers {
		if strings.Contains(msg, m) {
			return &RejectionError{Reason: err.Error()}
		}
	}
	return err
}

// validate checks an oracle judgement before it is trusted.
func validate(j Judgement) (Judgement, error) {
	t, ok := ParseType(string(j.Type))
	if !ok {
		return Judgement{}, fmt.Errorf("%w: unknown semantic_type %q", ErrMalformed, j.Type)
	}
	if j.Confidence < 0 || j.Confidence > 10 {
		return Judgement{}, fmt.Errorf("%w: confidence %d out of range", ErrMalformed, j.Confidence)
	}
	j.Type = t
	j.Description = strings.TrimSpace(j.Description)
	return j, nil
}
