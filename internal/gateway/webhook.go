package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

const SignatureHeader = "X-Hub-Signature-256"

var ErrBadSignature = errors.New("invalid webhook signature")

// VerifySignature checks "sha256=<hex>" over the raw body. An empty secret
// disables the check.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type callback struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []callbackStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type callbackStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Errors    []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ParseCallback extracts status events from a callback body. Statuses with an
// unknown name are returned with an empty Status so callers can log them.
func ParseCallback(body []byte) ([]StatusEvent, error) {
	var cb callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, err
	}
	var out []StatusEvent
	for _, e := range cb.Entry {
		for _, ch := range e.Changes {
			for _, st := range ch.Value.Statuses {
				ev := StatusEvent{ExternalID: st.ID, RawStatus: st.Status, Timestamp: parseUnix(st.Timestamp)}
				if s, ok := model.ParseGatewayStatus(st.Status); ok {
					ev.Status = s
				}
				if len(st.Errors) > 0 {
					ev.Reason = st.Errors[0].Title
					if st.Errors[0].Message != "" {
						ev.Reason = st.Errors[0].Message
					}
				}
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
