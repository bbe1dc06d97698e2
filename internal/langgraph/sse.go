package langgraph

import (
	"bytes"
	"iter"
	"net/http"

	"github.com/openai/openai-go/packages/ssestream"
)

// readParts yields the server-sent events of resp until the body ends.
// Frames carrying neither an event name nor data, such as keep-alive
// comments, are skipped.
func readParts(resp *http.Response) iter.Seq2[StreamPart, error] {
	return func(yield func(StreamPart, error) bool) {
		dec := ssestream.NewDecoder(resp)
		if dec == nil {
			return
		}
		for dec.Next() {
			e := dec.Event()
			if e.Type == "" && len(e.Data) == 0 {
				continue
			}
			part := StreamPart{
				Event: e.Type,
				Data:  bytes.TrimSuffix(e.Data, []byte("\n")),
			}
			if !yield(part, nil) {
				return
			}
		}
		if err := dec.Err(); err != nil {
			yield(StreamPart{}, err)
		}
	}
}
