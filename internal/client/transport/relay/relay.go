/*
Package relay is the client side of the relay-mediated transport.

Publishing is a plain HTTP POST to the server's stateless trigger endpoint. Delivery comes
over one relay subscription stream per Transport, opened lazily by the first Subscribe and
kept for the Transport's lifetime; it delivers every event of a subscribed channel,
including the client's own, so consumers filter by sender id.

Without an application key the Transport is inert: publishes are dropped and subscriptions
never fire, with a single warning logged.
*/
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"viewsync/internal/app/event"
	"viewsync/internal/client/transport"
	"viewsync/internal/client/transport/stream"
	"viewsync/internal/pkg/logx"
)

const (
	triggerPath = "/api/relay/trigger"
	streamPath  = "/relay/ws"

	// beaconTimeout bounds a Beacon request.
	beaconTimeout = 2 * time.Second
)

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the client used for trigger requests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithBackoff replaces the stream's redial schedule.
func WithBackoff(b func() retry.Backoff) Option {
	return func(t *Transport) { t.backoff = b }
}

// Transport is a transport.Channel over the relay trigger endpoint and subscription stream.
type Transport struct {
	baseURL string
	key     string
	client  *http.Client
	backoff func() retry.Backoff

	// streamOnce guards the lazily created subscription stream.
	streamOnce sync.Once
	stream     *stream.Stream

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}

	// beacons tracks in-flight Beacon requests so Close can wait for them.
	beacons sync.WaitGroup

	warnOnce sync.Once
	logger   zerolog.Logger
}

var (
	_ transport.Channel  = (*Transport)(nil)
	_ transport.Beaconer = (*Transport)(nil)
)

// New creates a Transport for the server at baseURL (http://host:port). No connection is
// made until the first Subscribe.
func New(baseURL, key string, opts ...Option) *Transport {
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client:  &http.Client{Timeout: 10 * time.Second},
		subs:    make(map[string]map[*subscription]struct{}),
		logger:  logx.Component("RelayTransport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enabled reports whether the transport has an application key.
func (t *Transport) Enabled() bool {
	return t.key != ""
}

func (t *Transport) warnDisabled() {
	t.warnOnce.Do(func() {
		t.logger.Warn().Msg("No relay application key configured; real-time updates are disabled.")
	})
}

// streamURL maps the base URL to the stream endpoint, switching http(s) to ws(s).
func (t *Transport) streamURL() (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	u.RawQuery = url.Values{"key": {t.key}}.Encode()
	return u.String(), nil
}

// ensureStream opens the subscription stream exactly once.
func (t *Transport) ensureStream() error {
	var err error

	t.streamOnce.Do(func() {
		var streamURL string
		if streamURL, err = t.streamURL(); err != nil {
			return
		}

		t.stream = stream.Open(stream.Config{
			URL:       streamURL,
			Backoff:   t.backoff,
			OnConnect: t.onConnect,
			OnFrame:   t.onFrame,
			Component: "RelayStream",
		})
	})
	if err != nil {
		return err
	}
	if t.stream == nil {
		return errors.New("relay stream unavailable")
	}
	return nil
}

// onConnect re-subscribes every channel; on a reconnect it first tells subscribers.
func (t *Transport) onConnect(reconnect bool) {
	t.mu.Lock()
	var channels []string
	var all []*subscription
	for channel, set := range t.subs {
		channels = append(channels, channel)
		for sub := range set {
			all = append(all, sub)
		}
	}
	t.mu.Unlock()

	if reconnect {
		for _, sub := range all {
			sub.Reconnected()
		}
	}
	for _, channel := range channels {
		t.sendControl(event.Subscribe, channel)
	}
}

func (t *Transport) onFrame(f event.Frame) {
	t.mu.Lock()
	set := t.subs[f.Channel]
	targets := make([]*subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	t.mu.Unlock()

	for _, sub := range targets {
		sub.Dispatch(f.Event, f.Data)
	}
}

func (t *Transport) sendControl(name, channel string) {
	if err := t.stream.Send(name, channel, nil); err != nil {
		t.logger.Debug().Err(err).Str("event", name).Str("channel", channel).Msg("Stream control frame deferred.")
	}
}

// Subscribe registers interest in roomName, opening the stream on first use.
func (t *Transport) Subscribe(_ context.Context, roomName string) (transport.Subscription, error) {
	if roomName == "" {
		return nil, errors.New("subscribe: empty room name")
	}

	sub := &subscription{t: t, channel: roomName}
	if !t.Enabled() {
		t.warnDisabled()
		return sub, nil
	}

	if err := t.ensureStream(); err != nil {
		return nil, errors.Wrap(err, "open relay stream")
	}

	t.mu.Lock()
	set, ok := t.subs[roomName]
	if !ok {
		set = make(map[*subscription]struct{})
		t.subs[roomName] = set
	}
	set[sub] = struct{}{}
	t.mu.Unlock()

	if !ok {
		t.sendControl(event.Subscribe, roomName)
	}
	return sub, nil
}

type triggerRequest struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data"`
}

// Publish posts the event to the trigger endpoint.
func (t *Transport) Publish(ctx context.Context, roomName, eventName string, payload any) error {
	if !t.Enabled() {
		t.warnDisabled()
		return nil
	}

	body, err := json.Marshal(triggerRequest{Channel: roomName, Event: eventName, Data: payload})
	if err != nil {
		return errors.Wrap(err, "encode trigger")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+triggerPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build trigger request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "trigger %s", eventName)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Errorf("trigger %s: HTTP %d: %s", eventName, res.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Beacon publishes in the background with a short timeout. Close waits for in-flight
// beacons.
func (t *Transport) Beacon(roomName, eventName string, payload any) {
	t.beacons.Add(1)
	go func() {
		defer t.beacons.Done()

		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()

		if err := t.Publish(ctx, roomName, eventName, payload); err != nil {
			t.logger.Debug().Err(err).Str("event", eventName).Msg("Beacon not delivered.")
		}
	}()
}

// Drop closes the stream's current connection to force a reconnect. It is a no-op before
// the first Subscribe.
func (t *Transport) Drop() {
	if t.stream != nil {
		t.stream.Drop()
	}
}

// Close waits for in-flight beacons and closes the stream.
func (t *Transport) Close() error {
	t.beacons.Wait()

	// Mark the stream as created so a late Subscribe cannot open a new one.
	t.streamOnce.Do(func() {})
	if t.stream != nil {
		return t.stream.Close()
	}
	return nil
}

func (t *Transport) unsubscribe(sub *subscription) {
	t.mu.Lock()
	set, ok := t.subs[sub.channel]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(set, sub)
	last := len(set) == 0
	if last {
		delete(t.subs, sub.channel)
	}
	t.mu.Unlock()

	if last && t.stream != nil {
		t.sendControl(event.Unsubscribe, sub.channel)
	}
}

type subscription struct {
	transport.Bindings

	t       *Transport
	channel string
}

func (s *subscription) Unsubscribe() error {
	if s.Close() {
		s.t.unsubscribe(s)
	}
	return nil
}
