package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSEWriter пишет события в формате server-sent events: "data: <json>\n\n".
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter выставляет заголовки потока и возвращает писатель.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// Send пишет одно событие.
func (s *SSEWriter) Send(v any) error {
	const op = "chat.SSEWriter.Send"
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.frame(body)
}

// Done завершает поток маркером [DONE].
func (s *SSEWriter) Done() error {
	return s.frame([]byte("[DONE]"))
}

func (s *SSEWriter) frame(data []byte) error {
	const op = "chat.SSEWriter.frame"
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
