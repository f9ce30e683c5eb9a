package acquire

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCookieClient_ReusesConnection(t *testing.T) {
	var conns int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		io.WriteString(w, c.Value)
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			atomic.AddInt32(&conns, 1)
		}
	}
	srv.Start()
	defer srv.Close()

	c, err := newCookieClient(Proxy{}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i, value := range []string{"a", "b", "c"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/img.png", nil)
		resp, err := c.Do(req, []*http.Cookie{{Name: "session", Value: value}})
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != value {
			t.Errorf("request %d: status %d body %q, want cookie %q", i, resp.StatusCode, body, value)
		}
	}
	if n := atomic.LoadInt32(&conns); n != 1 {
		t.Errorf("opened %d connections for 3 sequential downloads, want 1", n)
	}
}
