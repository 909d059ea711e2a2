package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"llmproxy/internal/models"
	"llmproxy/internal/routing"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is what the finish callback reports after persisting the turn.
type Result struct {
	ConversationID string
	MessageID      string
}

// FinishFunc runs exactly once, after the upstream stream ended cleanly and
// before the terminal event is emitted.
type FinishFunc func(ctx context.Context, s *Session) (Result, error)

type Relay struct {
	httpClient  *http.Client
	idleTimeout time.Duration
}

func New(httpClient *http.Client, idleTimeout time.Duration) *Relay {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Relay{
		httpClient:  httpClient,
		idleTimeout: idleTimeout,
	}
}

type line struct {
	text string
	eof  bool
	err  error
}

// Stream opens the upstream connection and returns the normalized event
// channel. The channel carries zero or more content events followed by at most
// one terminal event, then closes. If ctx is cancelled before the upstream
// stream ends, nothing is persisted and no terminal event is sent.
func (r *Relay) Stream(ctx context.Context, route routing.Route, body []byte, conversationID string, finish FinishFunc) <-chan models.Event {
	out := make(chan models.Event)
	s := &Session{ConversationID: conversationID, LastActivity: time.Now()}
	go r.run(ctx, route, body, s, finish, out)
	return out
}

func (r *Relay) run(ctx context.Context, route routing.Route, body []byte, s *Session, finish FinishFunc, out chan<- models.Event) {
	defer close(out)

	log := logrus.WithFields(logrus.Fields{
		"model":    route.ModelID,
		"wire":     route.WireModelID,
		"provider": route.Kind,
	})

	upstreamCtx, abandon := context.WithCancel(ctx)
	defer abandon()

	req, err := newUpstreamRequest(upstreamCtx, route, body)
	if err != nil {
		s.transition(StateConnecting)
		s.transition(StateError)
		log.Errorf("Ошибка при создании запроса к провайдеру: %v", err)
		emit(ctx, out, models.ErrorEvent(models.ErrStreamTransport.Error(), err.Error()))
		return
	}

	s.transition(StateConnecting)
	lines := make(chan line)
	go r.read(upstreamCtx, req, lines)

	timer := time.NewTimer(r.idleTimeout)
	defer timer.Stop()

	decode := decoderFor(route.Kind)
	// Only Gemini ends its stream by closing it; other framings send [DONE].
	endsAtEOF := route.Kind == models.ProviderGemini

	for {
		select {
		case <-ctx.Done():
			s.transition(StateCancelled)
			log.Info("Клиент отключился, поток прерван")
			return

		case <-timer.C:
			s.transition(StateTimeout)
			log.Warnf("Провайдер не ответил за %s", r.idleTimeout)
			emit(ctx, out, models.ErrorEvent(models.ErrStreamTimeout.Error(), fmt.Sprintf("нет данных %s", r.idleTimeout)))
			return

		case l := <-lines:
			if l.err != nil {
				s.transition(StateError)
				log.Errorf("Ошибка потока от провайдера: %v", l.err)
				emit(ctx, out, models.ErrorEvent(models.ErrStreamTransport.Error(), l.err.Error()))
				return
			}
			if l.eof {
				if !endsAtEOF {
					s.transition(StateError)
					log.Errorf("Поток оборвался без [DONE], получено %d символов", s.content.Len())
					emit(ctx, out, models.ErrorEvent(models.ErrStreamTransport.Error(), "поток оборвался без [DONE]"))
					return
				}
				r.complete(ctx, s, finish, out, log)
				return
			}

			resetTimer(timer, r.idleTimeout)
			s.LastActivity = time.Now()
			if s.State() == StateConnecting {
				s.transition(StateStreaming)
			}

			data, ok := parseLine(l.text)
			if !ok {
				continue
			}
			if data == doneSentinel {
				abandon()
				r.complete(ctx, s, finish, out, log)
				return
			}

			f, err := decode([]byte(data))
			if err != nil {
				log.Debugf("Пропущена некорректная строка потока: %q", data)
				continue
			}
			if f.upstreamErr != "" {
				s.transition(StateError)
				log.Errorf("Провайдер вернул ошибку: %s", f.upstreamErr)
				emit(ctx, out, models.ErrorEvent(models.ErrStreamTransport.Error(), f.upstreamErr))
				return
			}
			if f.usage != nil {
				s.Usage = f.usage
			}
			if f.delta != "" {
				s.content.WriteString(f.delta)
				if !emit(ctx, out, models.ContentEvent(f.delta)) {
					s.transition(StateCancelled)
					log.Info("Клиент отключился, поток прерван")
					return
				}
			}
		}
	}
}

func (r *Relay) complete(ctx context.Context, s *Session, finish FinishFunc, out chan<- models.Event, log *logrus.Entry) {
	if ctx.Err() != nil {
		s.transition(StateCancelled)
		log.Info("Клиент отключился до сохранения ответа")
		return
	}
	s.transition(StateCompleting)

	// Persistence must not be cut short by a client that leaves now.
	result, err := finish(context.WithoutCancel(ctx), s)
	if err != nil {
		s.transition(StateError)
		log.Errorf("Ошибка при сохранении ответа: %v", err)
		emit(ctx, out, models.ErrorEvent(models.ErrPersistence.Error(), err.Error()))
		return
	}

	s.transition(StateSuccess)
	emit(ctx, out, models.CompleteEvent(result.ConversationID, result.MessageID))
}

func (r *Relay) read(ctx context.Context, req *http.Request, lines chan<- line) {
	send := func(l line) bool {
		select {
		case lines <- l:
			return true
		case <-ctx.Done():
			return false
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		send(line{err: fmt.Errorf("%w: %v", models.ErrStreamTransport, err)})
		return
	}
	defer resp.Body.Close()
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		send(line{err: fmt.Errorf("%w: провайдер вернул %d: %s", models.ErrStreamTransport, resp.StatusCode, bytes.TrimSpace(msg))})
		return
	}

	reader := bufio.NewReader(resp.Body)
	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			if !send(line{text: text}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				send(line{eof: true})
			} else {
				send(line{err: fmt.Errorf("%w: %v", models.ErrStreamTransport, err)})
			}
			return
		}
	}
}

func newUpstreamRequest(ctx context.Context, route routing.Route, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if route.Kind == models.ProviderGemini {
		req.Header.Set("x-goog-api-key", route.Credential)
	} else {
		req.Header.Set("Authorization", "Bearer "+route.Credential)
	}
	return req, nil
}

func emit(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
