// Package attendance posts scan outcomes to the dashboard API.
package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/biogate/internal/biogate/types"
)

const (
	EventPath      = "/api/biometric/attendance-event"
	DefaultTimeout = 2 * time.Second

	EncodingJSON     = "json"
	EncodingProtobuf = "protobuf"

	contentTypeJSON  = "application/json"
	contentTypeProto = "application/x-protobuf"
)

var (
	// ErrDelivery means the request never got a response.
	ErrDelivery = errors.New("attendance delivery failed")
	// ErrUnexpectedStatus means the API answered with something other than 200.
	ErrUnexpectedStatus = errors.New("attendance api unexpected status")
)

type Options struct {
	BaseURL  string
	Encoding string
	Timeout  time.Duration
	HTTP     *http.Client
	Log      logrus.FieldLogger
}

// Client sends one POST per report. There are no retries; a failed report
// is the caller's to drop.
type Client struct {
	url      string
	encoding string
	http     *http.Client
	log      logrus.FieldLogger
}

func NewClient(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	hc := o.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	enc := o.Encoding
	if enc != EncodingProtobuf {
		enc = EncodingJSON
	}
	return &Client{
		url:      strings.TrimRight(o.BaseURL, "/") + EventPath,
		encoding: enc,
		http:     hc,
		log:      o.Log,
	}
}

func (c *Client) URL() string { return c.url }

func (c *Client) Report(ctx context.Context, r types.AttendanceReport) error {
	body, contentType, err := c.encode(r)
	if err != nil {
		return fmt.Errorf("encode attendance report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	c.log.WithField("biometric_id", r.BiometricID).Debug("attendance logged")
	return nil
}

func (c *Client) encode(r types.AttendanceReport) ([]byte, string, error) {
	if c.encoding == EncodingProtobuf {
		msg, err := reportStruct(r)
		if err != nil {
			return nil, "", err
		}
		b, err := proto.Marshal(msg)
		return b, contentTypeProto, err
	}
	b, err := json.Marshal(wireReport(r))
	return b, contentTypeJSON, err
}

// wire is the JSON body. Timestamps go out as zone-less local ISO-8601,
// the form the terminal itself reports.
type wire struct {
	BiometricID string  `json:"biometricId"`
	MemberID    *int64  `json:"memberId"`
	MemberName  *string `json:"memberName"`
	Allowed     bool    `json:"allowed"`
	Reason      string  `json:"reason"`
	Timestamp   string  `json:"timestamp"`
}

func wireReport(r types.AttendanceReport) wire {
	return wire{
		BiometricID: r.BiometricID,
		MemberID:    r.MemberID,
		MemberName:  r.MemberName,
		Allowed:     r.Allowed,
		Reason:      r.Reason,
		Timestamp:   localISO(r.Timestamp),
	}
}

// localISO writes microseconds only when there are any.
func localISO(t time.Time) string {
	t = t.Local()
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format("2006-01-02T15:04:05")
	}
	return t.Format("2006-01-02T15:04:05.000000")
}

// reportStruct carries the same keys as the JSON body in a
// google.protobuf.Struct. Absent member fields are null values.
func reportStruct(r types.AttendanceReport) (*structpb.Struct, error) {
	w := wireReport(r)
	fields := map[string]any{
		"biometricId": w.BiometricID,
		"memberId":    nil,
		"memberName":  nil,
		"allowed":     w.Allowed,
		"reason":      w.Reason,
		"timestamp":   w.Timestamp,
	}
	if w.MemberID != nil {
		fields["memberId"] = float64(*w.MemberID)
	}
	if w.MemberName != nil {
		fields["memberName"] = *w.MemberName
	}
	return structpb.NewStruct(fields)
}

// Discard accepts and drops every report.
type Discard struct{}

func (Discard) Report(context.Context, types.AttendanceReport) error { return nil }
