package logger

import (
	"bytes"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const sinkBuffer = 256

// sinkHook duplicates structured log events to an external HTTP
// endpoint. Delivery is best-effort: events are queued on a bounded
// buffer and dropped when the sink cannot keep up, so the hot path
// never blocks on the network.
type sinkHook struct {
	url    string
	token  string
	client *http.Client
	queue  chan []byte
	done   chan struct{}
}

// EnableSink attaches a best-effort HTTP log sink to the logger. The
// returned stop function terminates the drain goroutine.
func (l *Log) EnableSink(url, token string) (stop func()) {
	h := &sinkHook{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Second},
		queue:  make(chan []byte, sinkBuffer),
		done:   make(chan struct{}),
	}
	l.AddHook(h)
	go h.drain()
	return func() { close(h.done) }
}

func (h *sinkHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel}
}

func (h *sinkHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Logger.Formatter.Format(entry)
	if err != nil {
		return nil
	}
	select {
	case h.queue <- line:
	default:
		// buffer full, drop
	}
	return nil
}

func (h *sinkHook) drain() {
	for {
		select {
		case <-h.done:
			return
		case line := <-h.queue:
			req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader(line))
			if err != nil {
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			if h.token != "" {
				req.Header.Set("Authorization", "Bearer "+h.token)
			}
			if resp, err := h.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
}
