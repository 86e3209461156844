package vocabulary

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harishambati/fuzzyset/pkg/kafka"
)

// Event announces values to add to the vocabulary.
type Event struct {
	Values []string `json:"values"`
	Source string   `json:"source,omitempty"`
}

// Adder receives decoded values. *matcher.Engine satisfies it.
type Adder interface {
	AddAll(values []string) (int, error)
}

// HandleMessage returns a Kafka handler that adds each event's values to
// dst. Undecodable events and invalid values are logged and acknowledged so
// one bad message cannot stall the topic.
func HandleMessage(dst Adder) kafka.MessageHandler {
	logger := slog.Default().With("component", "vocabulary-consumer")
	return func(_ context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			logger.Error("skipping undecodable vocabulary event", "key", string(key), "error", err)
			return nil
		}
		added, err := dst.AddAll(compact(event.Values))
		if err != nil {
			logger.Warn("vocabulary event partially applied",
				"source", event.Source,
				"added", added,
				"error", err,
			)
			return nil
		}
		logger.Debug("vocabulary event applied",
			"source", event.Source,
			"values", len(event.Values),
			"added", added,
		)
		return nil
	}
}

// compact drops blank entries.
func compact(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
