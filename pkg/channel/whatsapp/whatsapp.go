// Package whatsapp talks to the WhatsApp sidecar over NATS. The sidecar owns
// the WhatsApp session; this side consumes its event stream and issues
// request/reply calls for sends, downloads and profile lookups.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wabridge/pkg/channel"
	"wabridge/pkg/config"
	"wabridge/pkg/logger"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	channelName         = "whatsapp"
	maxConcurrentEvents = 8
	reconnectWait       = 2 * time.Second
)

// RPC methods served by the sidecar under <prefix>.rpc.<method>.
const (
	methodSend             = "send"
	methodProfileImage     = "profile_image"
	methodConversationInfo = "conversation_info"
	methodDownload         = "download"
)

// conn is the subset of *nats.Conn the client uses.
type conn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

type request struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Payload        *channel.SourcePayload `json:"payload,omitempty"`
	Media          *channel.MediaRef      `json:"media,omitempty"`
}

type reply struct {
	ID        string                    `json:"id"`
	Error     string                    `json:"error,omitempty"`
	MessageID string                    `json:"message_id,omitempty"`
	URL       string                    `json:"url,omitempty"`
	Info      *channel.ConversationInfo `json:"info,omitempty"`
	Data      []byte                    `json:"data,omitempty"`
}

// Client is both the WhatsApp receive loop and the channel.Source used by the router.
type Client struct {
	nc      conn
	prefix  string
	queue   string
	timeout time.Duration
	log     *slog.Logger
}

// Connect dials NATS with unlimited reconnects and returns a ready client.
func Connect(cfg config.WhatsAppConfig, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return nil, errors.New("whatsapp.nats_url is required")
	}
	log = logger.OrDiscard(log).With("component", "channel.whatsapp")

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("wabridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.NATSURL, err)
	}

	log.Info("Connected to NATS", "url", nc.ConnectedUrl(), "subject_prefix", cfg.SubjectPrefix)
	return newClient(nc, cfg, log), nil
}

func newClient(nc conn, cfg config.WhatsAppConfig, log *slog.Logger) *Client {
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "wabridge"
	}
	return &Client{
		nc:      nc,
		prefix:  prefix,
		queue:   cfg.QueueGroup,
		timeout: cfg.RequestTimeout(),
		log:     logger.OrDiscard(log),
	}
}

// Name returns the channel identifier used in logs and health output.
func (c *Client) Name() string {
	return channelName
}

func (c *Client) eventsSubject() string {
	return c.prefix + ".events"
}

func (c *Client) rpcSubject(method string) string {
	return c.prefix + ".rpc." + method
}

// Run consumes sidecar events until ctx ends. Events are decoded and handed
// to the source handler on a bounded set of goroutines.
func (c *Client) Run(ctx context.Context, handlers channel.Handlers) error {
	if handlers.Source == nil {
		return errors.New("source handler is required")
	}

	var (
		group   errgroup.Group
		mu      sync.Mutex
		stopped bool
	)
	group.SetLimit(maxConcurrentEvents)

	sub, err := c.nc.QueueSubscribe(c.eventsSubject(), c.queue, func(msg *nats.Msg) {
		event, ok := c.decodeEvent(msg.Data)
		if !ok {
			return
		}
		// No dispatch may start once shutdown has begun waiting on the group.
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			c.log.Debug("Dropping whatsapp event after shutdown", "kind", event.Kind, "message_id", event.MessageID)
			return
		}
		group.Go(func() error {
			if err := handlers.Source(ctx, event); err != nil {
				c.log.Error("Failed to relay whatsapp event", "kind", event.Kind, "message_id", event.MessageID, "error", err)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.eventsSubject(), err)
	}

	c.log.Info("WhatsApp channel started", "subject", c.eventsSubject(), "queue", c.queue)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		c.log.Warn("Failed to unsubscribe from events", "error", err)
	}
	mu.Lock()
	stopped = true
	mu.Unlock()
	_ = group.Wait()
	return nil
}

func (c *Client) decodeEvent(data []byte) (channel.SourceEvent, bool) {
	var event channel.SourceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.log.Warn("Dropping malformed whatsapp event", "error", err, "bytes", len(data))
		return channel.SourceEvent{}, false
	}
	if event.Kind == "" {
		event.Kind = channel.EventMessage
	}
	if event.Kind != channel.EventStatus && strings.TrimSpace(event.ChatID) == "" {
		c.log.Warn("Dropping whatsapp event without chat", "kind", event.Kind, "message_id", event.MessageID)
		return channel.SourceEvent{}, false
	}
	return event, true
}

// call performs one request/reply round trip and maps failures onto channel error kinds.
func (c *Client) call(ctx context.Context, method string, req request) (reply, error) {
	req.ID = uuid.NewString()
	data, err := json.Marshal(req)
	if err != nil {
		return reply{}, fmt.Errorf("encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(ctx, c.rpcSubject(method), data)
	if err != nil {
		return reply{}, channel.NewError(channel.ErrorUnavailable, method, err)
	}

	var resp reply
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return reply{}, channel.NewError(channel.ErrorRejected, method, fmt.Errorf("decode reply: %w", err))
	}
	if resp.Error != "" {
		return reply{}, channel.NewError(channel.ErrorRejected, method, errors.New(resp.Error))
	}
	return resp, nil
}

// SendMessage delivers one payload to a WhatsApp conversation and returns its message id.
func (c *Client) SendMessage(ctx context.Context, conversationID string, payload channel.SourcePayload) (string, error) {
	resp, err := c.call(ctx, methodSend, request{ConversationID: conversationID, Payload: &payload})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) FetchProfileImage(ctx context.Context, conversationID string) (string, error) {
	resp, err := c.call(ctx, methodProfileImage, request{ConversationID: conversationID})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) ConversationInfo(ctx context.Context, conversationID string) (channel.ConversationInfo, error) {
	resp, err := c.call(ctx, methodConversationInfo, request{ConversationID: conversationID})
	if err != nil {
		return channel.ConversationInfo{}, err
	}
	if resp.Info == nil {
		return channel.ConversationInfo{}, nil
	}
	return *resp.Info, nil
}

func (c *Client) DownloadMedia(ctx context.Context, media channel.MediaRef) ([]byte, error) {
	resp, err := c.call(ctx, methodDownload, request{Media: &media})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, channel.NewError(channel.ErrorRejected, methodDownload, errors.New("empty media"))
	}
	return resp.Data, nil
}

// Close drains in-flight requests and closes the connection.
func (c *Client) Close() error {
	if err := c.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

var (
	_ channel.Source  = (*Client)(nil)
	_ channel.Adapter = (*Client)(nil)
)
