package logx

import (
	"encoding/json"
	"strings"
	"time"

	"cloudgather/internal/logring"
)

// ringWriter is a zerolog sink that demultiplexes each record into
// internal/logring by its task_id field, falling back to the "general"
// ring when absent. It decodes its own JSON line to read that field, since
// zerolog.Writer only ever sees the already-encoded record.
type ringWriter struct{ ring *logring.Store }

func (w *ringWriter) Write(p []byte) (int, error) {
	if w.ring == nil {
		return len(p), nil
	}
	var m map[string]any
	if err := json.Unmarshal(trimSpace(p), &m); err != nil {
		w.ring.Write(logring.GeneralID, time.Now(), strings.TrimSpace(string(p)))
		return len(p), nil
	}
	taskID, _ := m["task_id"].(string)
	msg, _ := m["message"].(string)
	lvl, _ := m["level"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	w.ring.Write(taskID, time.Now(), b.String())
	return len(p), nil
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool { return c == ' ' || c == '\n' || c == '\r' || c == '\t' }
