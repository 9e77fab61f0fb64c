package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vonshlovens/fieldsync/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New(
		&config.ServerConfig{BaseURL: ts.URL + "/api/", Token: "tok", TimeoutSeconds: 5},
		&config.SyncConfig{RetryAttempts: retries, RetryDelayMs: 1},
		WithHTTPClient(ts.Client()),
	)
}

func TestSync_EmptyArraysAndAuth(t *testing.T) {
	var body map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sync" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"message":"ok"}`)
	}, 0)

	resp, err := c.Sync(context.Background(), &SyncRequest{DeviceID: "d1", UserID: "u1"})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !resp.Success || resp.Message != "ok" {
		t.Errorf("resp = %+v", resp)
	}
	for _, key := range []string{"appointments", "riskAssessmentMasters", "riskAssessmentItems", "deletedEntities"} {
		if string(body[key]) != "[]" {
			t.Errorf("%s = %s, want []", key, body[key])
		}
	}
	if string(body["deviceId"]) != `"d1"` || string(body["userId"]) != `"u1"` {
		t.Errorf("deviceId/userId = %s/%s", body["deviceId"], body["userId"])
	}
}

func TestSync_BooleanFlagsOnWire(t *testing.T) {
	var raw string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		io.WriteString(w, `{"success":true}`)
	}, 0)

	req := &SyncRequest{
		RiskAssessmentItems:   []RiskAssessmentItem{{RiskAssessmentItemID: 1, HasPhoto: true}},
		RiskAssessmentMasters: []RiskAssessmentMaster{{RiskAssessmentID: 2, IsComplete: true}},
	}
	if _, err := c.Sync(context.Background(), req); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	for _, want := range []string{`"hasphoto":true`, `"issynced":false`, `"iscomplete":true`} {
		if !strings.Contains(raw, want) {
			t.Errorf("payload missing %s: %s", want, raw)
		}
	}
}

func TestSync_SuccessFalseIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"message":"validation failed"}`)
	}, 0)

	resp, err := c.Sync(context.Background(), &SyncRequest{})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if resp.Success || resp.Message != "validation failed" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSync_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"message":"try later"}`)
			return
		}
		io.WriteString(w, `{"success":true}`)
	}, 3)

	if _, err := c.Sync(context.Background(), &SyncRequest{}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestSync_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"success":false,"message":"bad payload"}`)
	}, 3)

	_, err := c.Sync(context.Background(), &SyncRequest{})
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ServerError", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Message != "bad payload" {
		t.Errorf("ServerError = %+v", se)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestResponseAck(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantNil bool
	}{
		{"absent", ``, true},
		{"null", `null`, true},
		{"unrelated object", `{"serverTime":"2024-01-01"}`, true},
		{"array", `[1,2]`, true},
		{"accepted", `{"accepted":{"riskAssessmentItems":[1]}}`, false},
		{"id map only", `{"idMap":{"riskAssessmentItems":{"-1":900}}}`, false},
		{"failed only", `{"failed":[{"entityType":"AssessmentItem","id":1,"reason":"bad"}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &SyncResponse{Success: true, Data: json.RawMessage(tt.data)}
			ack, err := resp.Ack()
			if err != nil {
				t.Fatalf("Ack failed: %v", err)
			}
			if (ack == nil) != tt.wantNil {
				t.Errorf("ack = %+v, wantNil %v", ack, tt.wantNil)
			}
		})
	}

	resp := &SyncResponse{Data: json.RawMessage(`{"idMap":{"riskAssessmentItems":{"-1":900}}}`)}
	ack, _ := resp.Ack()
	if ack.IDMap.RiskAssessmentItems[-1] != 900 {
		t.Errorf("idMap = %+v", ack.IDMap)
	}
}

func TestUploadMedia(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.FileName == "bad.jpg" {
			io.WriteString(w, `{"success":false,"message":"unsupported"}`)
			return
		}
		if req.EntityName != "AssessmentItem" || req.EntityID != 7 || req.Base64Data != "aGk=" {
			t.Errorf("request = %+v", req)
		}
		io.WriteString(w, `{"success":true,"data":{"blobUrl":"https://blob.example.com/a.jpg"}}`)
	}, 0)

	url, err := c.UploadMedia(context.Background(), &UploadRequest{
		FileName: "a.jpg", EntityName: "AssessmentItem", EntityID: 7, Base64Data: "aGk=",
	})
	if err != nil || url != "https://blob.example.com/a.jpg" {
		t.Errorf("UploadMedia = %q, %v", url, err)
	}

	if _, err := c.UploadMedia(context.Background(), &UploadRequest{FileName: "bad.jpg"}); err == nil {
		t.Error("expected error for success=false upload")
	}
}

func TestListMedia_ArrayAndEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"FileName":"a.jpg","BlobURL":"u","UploadedAt":"2024-03-01T10:00:00Z"}]`, 1},
		{"envelope", `{"success":true,"data":[{"FileName":"a.jpg"},{"FileName":"b.jpg"}]}`, 2},
		{"empty envelope", `{"success":true}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/media/AssessmentItem/7" {
					t.Errorf("path = %s", r.URL.Path)
				}
				io.WriteString(w, tt.body)
			}, 0)

			list, err := c.ListMedia(context.Background(), "AssessmentItem", 7)
			if err != nil {
				t.Fatalf("ListMedia failed: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("got %d entries, want %d", len(list), tt.want)
			}
		})
	}
}

func TestRemoteMedia_UploadedTime(t *testing.T) {
	if (RemoteMedia{UploadedAt: "2024-03-01T10:00:00Z"}).UploadedTime() == nil {
		t.Error("RFC3339 not parsed")
	}
	if (RemoteMedia{UploadedAt: "2024-03-01 10:00:00"}).UploadedTime() == nil {
		t.Error("SQL datetime not parsed")
	}
	if (RemoteMedia{UploadedAt: ""}).UploadedTime() != nil {
		t.Error("empty should be nil")
	}
}

func TestDownload_AuthOnlyForAPIHost(t *testing.T) {
	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("token leaked to blob host")
		}
		io.WriteString(w, "blob-bytes")
	}))
	defer blob.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Error("missing token for API host")
		}
		io.WriteString(w, "api-bytes")
	}, 0)

	for url, want := range map[string]string{
		blob.URL + "/a.jpg": "blob-bytes",
		"files/a.jpg":       "api-bytes",
	} {
		rc, err := c.Download(context.Background(), url)
		if err != nil {
			t.Fatalf("Download(%s) failed: %v", url, err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if string(got) != want {
			t.Errorf("Download(%s) = %q, want %q", url, got, want)
		}
	}
}
