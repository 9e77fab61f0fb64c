package connectivity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func upIface() []net.Interface {
	return []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Name: "wlan0", Flags: net.FlagUp},
	}
}

func TestNetChecker(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name   string
		ifaces func() ([]net.Interface, error)
		url    string
		want   Status
	}{
		{
			name:   "online",
			ifaces: func() ([]net.Interface, error) { return upIface(), nil },
			url:    srv.URL + "/health",
			want:   Status{Connected: true, InternetReachable: true},
		},
		{
			name: "loopback only",
			ifaces: func() ([]net.Interface, error) {
				return []net.Interface{{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}}, nil
			},
			url:  srv.URL,
			want: Status{},
		},
		{
			name:   "interface listing fails",
			ifaces: func() ([]net.Interface, error) { return nil, errors.New("boom") },
			url:    srv.URL,
			want:   Status{},
		},
		{
			name:   "server unreachable",
			ifaces: func() ([]net.Interface, error) { return upIface(), nil },
			url:    closedURL,
			want:   Status{Connected: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewNetChecker(tt.url, time.Second, nil)
			c.interfaces = tt.ifaces

			got := c.Check(context.Background())
			if got != tt.want {
				t.Errorf("Check() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if gotMethod != http.MethodHead {
		t.Errorf("probe method = %q, want HEAD", gotMethod)
	}
}

func TestStatusErr(t *testing.T) {
	if err := (Status{Connected: true, InternetReachable: true}).Err(); err != nil {
		t.Errorf("online Err() = %v", err)
	}
	for _, st := range []Status{{}, {Connected: true}} {
		if err := st.Err(); !errors.Is(err, ErrOffline) {
			t.Errorf("%+v Err() = %v, want ErrOffline", st, err)
		}
		if st.Online() {
			t.Errorf("%+v reported online", st)
		}
	}
}
