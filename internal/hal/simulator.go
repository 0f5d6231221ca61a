package hal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SimProvider talks to an external GPIO-pin simulator process over HTTP
// for request/response reads and writes, and over a websocket for
// asynchronous pin-level pushes (limit switches, buttons toggled from the
// simulator's own UI rather than by our own WriteDigital calls).
type SimProvider struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	pushed map[int]bool // latest level pushed over the websocket, by pin

	wsConn *websocket.Conn
	stop   chan struct{}
	start  time.Time
}

// NewSimProvider dials the simulator's HTTP base URL and, if it exposes
// one, its push websocket at /ws.
func NewSimProvider(baseURL string) (*SimProvider, error) {
	s := &SimProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		pushed:  make(map[int]bool),
		stop:    make(chan struct{}),
		start:   time.Now(),
	}

	if _, err := s.client.Get(baseURL + "/healthz"); err != nil {
		return nil, fmt.Errorf("%w: simulator unreachable at %s: %v", ErrUnavailable, baseURL, err)
	}

	wsURL := "ws" + trimScheme(baseURL) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		s.wsConn = conn
		go s.readPushes()
	}

	return s, nil
}

func trimScheme(u string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if len(u) >= len(prefix) && u[:len(prefix)] == prefix {
			return "://" + u[len(prefix):]
		}
	}
	return "://" + u
}

type pinPush struct {
	Pin   int  `json:"pin"`
	Value bool `json:"value"`
}

func (s *SimProvider) readPushes() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		var push pinPush
		if err := s.wsConn.ReadJSON(&push); err != nil {
			return
		}
		s.mu.Lock()
		s.pushed[push.Pin] = push.Value
		s.mu.Unlock()
	}
}

func (s *SimProvider) ReadDigital(pin int) (bool, error) {
	s.mu.RLock()
	if v, ok := s.pushed[pin]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	resp, err := s.client.Get(s.baseURL + "/digital/" + strconv.Itoa(pin))
	if err != nil {
		return false, &ReadError{Op: "ReadDigital", Err: err}
	}
	defer resp.Body.Close()

	var body struct {
		Value bool `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, &ReadError{Op: "ReadDigital", Err: err}
	}
	return body.Value, nil
}

func (s *SimProvider) WriteDigital(pin int, value bool) error {
	payload, _ := json.Marshal(map[string]interface{}{"value": value})
	resp, err := s.client.Post(s.baseURL+"/digital/"+strconv.Itoa(pin), "application/json", bytes.NewReader(payload))
	if err != nil {
		return &ReadError{Op: "WriteDigital", Err: err}
	}
	resp.Body.Close()
	return nil
}

func (s *SimProvider) ReadAnalog(channel int) (int, error) {
	resp, err := s.client.Get(s.baseURL + "/analog/" + strconv.Itoa(channel))
	if err != nil {
		return 0, &ReadError{Op: "ReadAnalog", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, &ReadError{Op: "ReadAnalog", Err: ErrNoSuchChannel}
	}

	var body struct {
		Value int `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, &ReadError{Op: "ReadAnalog", Err: err}
	}
	return body.Value, nil
}

func (s *SimProvider) NowMicros() uint64 {
	return uint64(time.Since(s.start).Microseconds())
}

func (s *SimProvider) Close() error {
	close(s.stop)
	if s.wsConn != nil {
		return s.wsConn.Close()
	}
	return nil
}
