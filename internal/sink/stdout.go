package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/pageshot/shot"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout). Composites
// carry their PNG base64-encoded.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Deliver(_ context.Context, c shot.Composite) error {
	data, err := shot.EncodePNG(&c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "composite", Data: shot.Encoded{Composite: c, PNG: data}})
}

func (s *Stdout) Report(_ context.Context, f shot.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "failure", Data: f})
}

func (s *Stdout) Close() error { return nil }
