package wuzapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zapflowhq/zapflow/internal/models"
)

func testConn() *models.Connection {
	return &models.Connection{ID: "conn1", InstanceToken: "tok123"}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func okEnvelope(data string) string {
	return `{"code":200,"success":true,"data":` + data + `}`
}

func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"plain digits", "5511999990000", "5511999990000@s.whatsapp.net"},
		{"formatted number", "+55 (11) 99999-0000", "5511999990000@s.whatsapp.net"},
		{"group JID passes through", "1234567890-987654@g.us", "1234567890-987654@g.us"},
		{"qualified JID passes through", "5511999990000@s.whatsapp.net", "5511999990000@s.whatsapp.net"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeJID(tt.phone); got != tt.want {
				t.Errorf("NormalizeJID(%q) = %q, want %q", tt.phone, got, tt.want)
			}
		})
	}
}

func TestSendTextSetsTokenAndJID(t *testing.T) {
	var gotToken string
	var gotBody map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/send/text" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotToken = r.Header.Get("token")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(okEnvelope(`{"Id":"msg1"}`)))
	})

	err := client.SendText(context.Background(), testConn(), "+55 11 99999-0000", "olá")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if gotToken != "tok123" {
		t.Errorf("expected instance token header, got %q", gotToken)
	}
	if gotBody["Phone"] != "5511999990000@s.whatsapp.net" {
		t.Errorf("expected normalized JID, got %q", gotBody["Phone"])
	}
	if gotBody["Body"] != "olá" {
		t.Errorf("expected body, got %q", gotBody["Body"])
	}
}

func TestSendTextValidation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid input")
	})

	if err := client.SendText(context.Background(), testConn(), "", "oi"); err != models.ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := client.SendText(context.Background(), testConn(), "5511", ""); err != models.ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	long := strings.Repeat("a", models.MaxMessageBodyLength+1)
	if err := client.SendText(context.Background(), testConn(), "5511", long); err != models.ErrBodyTooLong {
		t.Errorf("expected ErrBodyTooLong, got %v", err)
	}
	noToken := &models.Connection{ID: "c"}
	if err := client.SendText(context.Background(), noToken, "5511", "oi"); err != models.ErrConnectionNoToken {
		t.Errorf("expected ErrConnectionNoToken, got %v", err)
	}
}

func TestSendImageRejectsNonJPEGPNG(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid media")
	})

	gif := "data:image/gif;base64," + base64.StdEncoding.EncodeToString([]byte("GIF89a"))
	err := client.SendImage(context.Background(), testConn(), "5511", gif, "")
	if err == nil || !strings.Contains(err.Error(), "unsupported image type") {
		t.Errorf("expected unsupported image type error, got %v", err)
	}
}

func TestSendAudioForcesOggMIME(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(okEnvelope(`{}`)))
	})

	mp3 := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("audio-bytes"))
	if err := client.SendAudio(context.Background(), testConn(), "5511", mp3); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if !strings.HasPrefix(gotBody["Audio"], "data:audio/ogg;base64,") {
		t.Errorf("expected audio forced to audio/ogg, got %q", gotBody["Audio"])
	}
}

func TestSendDocumentForcesOctetStream(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(okEnvelope(`{}`)))
	})

	pdf := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF"))
	if err := client.SendDocument(context.Background(), testConn(), "5511", pdf, "contrato.pdf"); err != nil {
		t.Fatalf("SendDocument failed: %v", err)
	}
	if !strings.HasPrefix(gotBody["Document"], "data:application/octet-stream;base64,") {
		t.Errorf("expected document forced to octet-stream, got %q", gotBody["Document"])
	}
	if gotBody["FileName"] != "contrato.pdf" {
		t.Errorf("expected filename, got %q", gotBody["FileName"])
	}
}

func TestQRCodeNormalizesFieldName(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"uppercase field", `{"QRCode":"qr-payload"}`},
		{"lowercase field", `{"qr":"qr-payload"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(okEnvelope(tt.data)))
			})
			code, err := client.QRCode(context.Background(), testConn())
			if err != nil {
				t.Fatalf("QRCode failed: %v", err)
			}
			if code != "qr-payload" {
				t.Errorf("expected qr-payload, got %q", code)
			}
		})
	}
}

func TestStatusNormalizesCasing(t *testing.T) {
	tests := []struct {
		name string
		data string
		want models.ConnectionStatus
	}{
		{"uppercase connected and logged in", `{"Connected":true,"LoggedIn":true}`, models.ConnectionStatusConnected},
		{"lowercase connected only", `{"connected":true,"loggedIn":false}`, models.ConnectionStatusConnecting},
		{"disconnected", `{"Connected":false}`, models.ConnectionStatusDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(okEnvelope(tt.data)))
			})
			got, err := client.Status(context.Background(), testConn())
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGatewayErrorSurfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":500,"success":false,"error":"no session"}`))
	})

	err := client.SendText(context.Background(), testConn(), "5511", "oi")
	if err == nil || !strings.Contains(err.Error(), "no session") {
		t.Errorf("expected gateway error surfaced, got %v", err)
	}
}

func TestCheckUser(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/check" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(okEnvelope(`{"Users":[{"Query":"5511","IsInWhatsapp":true,"JID":"5511@s.whatsapp.net"}]}`)))
	})

	results, err := client.CheckUser(context.Background(), testConn(), []string{"5511"})
	if err != nil {
		t.Fatalf("CheckUser failed: %v", err)
	}
	if len(results) != 1 || !results[0].IsIn {
		t.Errorf("unexpected results %+v", results)
	}
}
