package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"peerchat/apperrors"
	"peerchat/pkg/breaker"
	"peerchat/pkg/logger"
	"peerchat/pkg/metrics"

	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"
)

// Client forwards operations to other nodes and waits for their answer.
// There is no retry; a failed call is reported to the caller as is.
type Client struct {
	local    string
	dir      Directory
	http     *fasthttp.Client
	timeout  time.Duration
	breakers *breaker.Set
	log      *logger.Logger
}

func NewClient(local string, dir Directory, timeout time.Duration) *Client {
	return &Client{
		local: local,
		dir:   dir,
		http: &fasthttp.Client{
			Name:                     "peerchat-relay",
			MaxConnsPerHost:          16,
			MaxIdleConnDuration:      time.Minute,
			NoDefaultUserAgentHeader: true,
		},
		timeout: timeout,
		breakers: breaker.NewSet(breaker.Config{
			Name: "relay",
			// Remote rejections mean the peer is up
			IsSuccessful: func(err error) bool {
				return err == nil || apperrors.HasCode(err, apperrors.ErrCodeRelayRejected)
			},
		}),
		log: logger.WithComponent("relay"),
	}
}

// BreakerStates reports per-peer circuit state for health output
func (c *Client) BreakerStates() map[string]string {
	return c.breakers.States()
}

// Send delivers a direct message to target and returns once it is acknowledged
func (c *Client) Send(ctx context.Context, target, content string) error {
	resp, err := c.do(ctx, target, Request{Send: &SendRequest{Target: target, Message: content}})
	if err != nil {
		return err
	}
	if resp.Send == nil {
		return apperrors.NewRelayRejected(target, fasthttp.StatusOK, "Peer answered without an acknowledgment")
	}
	return nil
}

// FetchHistory asks peer for its log of the conversation with node
func (c *Client) FetchHistory(ctx context.Context, peer, node string) ([]WireMessage, error) {
	resp, err := c.do(ctx, peer, Request{History: &HistoryRequest{Node: node}})
	if err != nil {
		return nil, err
	}
	if resp.History == nil {
		return nil, apperrors.NewRelayRejected(peer, fasthttp.StatusOK, "Peer answered without a history")
	}
	return resp.History.Messages, nil
}

func (c *Client) do(ctx context.Context, peer string, request Request) (*Response, error) {
	base, err := c.dir.Resolve(ctx, peer)
	if err != nil {
		metrics.RecordRelay(peer, "unknown_peer", 0)
		return nil, apperrors.NewRelayUnavailable(peer, "unknown peer", err)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, apperrors.NewInternalError("encode relay request").WithInternal(err)
	}

	start := time.Now()
	out, err := c.breakers.Get(peer).Execute(func() (any, error) {
		return c.roundTrip(peer, base+PeerPath, body)
	})
	elapsed := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordRelay(peer, "circuit_open", 0)
		return nil, apperrors.NewRelayUnavailable(peer, "circuit open", err)
	}

	log := c.log.WithFields(map[string]any{"peer": peer, "duration": elapsed})
	if err != nil {
		appErr := apperrors.FromError(err)
		metrics.RecordRelay(peer, string(appErr.Code), elapsed.Seconds())
		log.WithError(err).Warn("relay failed")
		return nil, appErr
	}

	metrics.RecordRelay(peer, "ack", elapsed.Seconds())
	log.Debug("relay acknowledged")
	return out.(*Response), nil
}

func (c *Client) roundTrip(peer, url string, body []byte) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set(HeaderNode, c.local)
	req.SetBody(body)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, apperrors.NewRelayTimeout(peer, c.timeout)
		}
		return nil, apperrors.NewRelayUnavailable(peer, "unreachable", err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, apperrors.NewRelayRejected(peer, status, remoteMessage(resp.Body()))
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, apperrors.NewRelayRejected(peer, status, fmt.Sprintf("Unreadable peer response: %v", err))
	}
	return &out, nil
}

// remoteMessage extracts the peer's own error message, or its raw body
func remoteMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return string(bytes.TrimSpace(body))
}
