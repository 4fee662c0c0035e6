package pageshot

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/internal/dbopen"
	"github.com/hazyhaar/pageshot/internal/display"
	"github.com/hazyhaar/pageshot/internal/sink"
	"github.com/hazyhaar/pageshot/shot"
)

// Sink is the output interface for composites and dropped passes.
type Sink = sink.Sink

// Display serves the latest composite of every page over HTTP. It is also
// a Sink.
type Display = display.Server

// NewDisplay creates a display server. Mount Handler() on an http.Server
// and pass the Display to New or AddSink.
func NewDisplay(logger *slog.Logger) *Display {
	return display.New(logger)
}

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewFileSink writes <dir>/<page_id>.png after every composite.
func NewFileSink(dir string) (Sink, error) {
	f, err := sink.NewFile(dir)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewCallbackSink creates an in-process callback sink. Either function may
// be nil.
func NewCallbackSink(
	onComposite func(ctx context.Context, c shot.Composite) error,
	onFailure func(ctx context.Context, f shot.Failure) error,
) Sink {
	return sink.NewCallback(onComposite, onFailure)
}

// storeSink owns the database it writes to.
type storeSink struct {
	*sink.Store
	db *sql.DB
}

func (s storeSink) Close() error { return s.db.Close() }

// NewStoreSink opens (or creates) an SQLite database at path and keeps the
// latest composite of every page in it.
func NewStoreSink(path string) (Sink, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(sink.StoreSchema))
	if err != nil {
		return nil, fmt.Errorf("pageshot: store sink: %w", err)
	}
	return storeSink{Store: sink.NewStore(db), db: db}, nil
}

// OpenSinks builds the sinks named in configuration. On error, sinks
// already opened are closed.
func OpenSinks(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	fail := func(err error) ([]Sink, error) {
		for _, s := range out {
			s.Close()
		}
		return nil, err
	}

	for _, c := range cfgs {
		switch c.Type {
		case "stdout", "":
			out = append(out, NewStdoutSink(nil))
		case "webhook":
			if c.URL == "" {
				return fail(fmt.Errorf("pageshot: webhook sink needs url"))
			}
			out = append(out, NewWebhookSink(c.URL, logger))
		case "file":
			s, err := NewFileSink(c.Dir)
			if err != nil {
				return fail(err)
			}
			out = append(out, s)
		case "sqlite":
			s, err := NewStoreSink(c.Path)
			if err != nil {
				return fail(err)
			}
			out = append(out, s)
		default:
			return fail(fmt.Errorf("pageshot: unknown sink type %q", c.Type))
		}
	}
	return out, nil
}
