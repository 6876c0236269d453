// Package tokens estimates token counts with tiktoken for responses whose
// provider reported no usage. Estimates are advisory and are recorded as
// metadata, never as provider usage.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ragmetrics-ai/ragmetrics-go/trace"
)

// Estimator counts tokens using the encoding of a reference model.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the encoding for model (e.g. "gpt-3.5-turbo").
func NewEstimator(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("tokens: failed to load encoding for %q: %w", model, err)
	}
	return &Estimator{enc: enc}, nil
}

// EstimateMessages returns the token count of the message contents. The
// model argument is accepted for interface compatibility; the estimator's
// own encoding is used regardless.
func (e *Estimator) EstimateMessages(model string, msgs []trace.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		total += len(e.enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}
