// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	tgdownloader "github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-archiver/internal/logger"
	"github.com/blockedby/tg-archiver/internal/media"
	"github.com/blockedby/tg-archiver/internal/models"
)

// maxHistoryLimit is the server-side cap of one history page.
const maxHistoryLimit = 100

// errors
var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotAChannel     = errors.New("not a channel")
)

// Client wraps gotgproto client and provides high-level telegram operations.
// It uses the Manager to access the underlying protocol client.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	dl          *tgdownloader.Downloader
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager, limiter *RateLimiter) *Client {
	if limiter == nil {
		limiter = DefaultRateLimiter()
	}
	return &Client{
		manager:     manager,
		rateLimiter: limiter,
		dl:          tgdownloader.NewDownloader(),
		log:         logger.Get(),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrNotAuthorized
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// call waits for the limiter, runs fn against the api and feeds flood
// waits back into the limiter.
func (c *Client) call(ctx context.Context, op string, fn func(api *tg.Client) error) error {
	api, err := c.API()
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	err = fn(api)
	if d, ok := c.rateLimiter.Observe(err); ok {
		c.log.Warn().Dur("wait", d).Str("op", op).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResolveChannel resolves a channel reference: a username with or without
// @, or a numeric id (bare or in -100 form).
func (c *Client) ResolveChannel(ctx context.Context, ref string) (*models.Channel, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if ref == "" {
		return nil, ErrChannelNotFound
	}

	if id, ok := parseChannelID(ref); ok {
		return c.resolveByID(ctx, id)
	}

	c.log.Info().Str("username", ref).Msg("telegram: resolving channel username")
	var resolved *tg.ContactsResolvedPeer
	err := c.call(ctx, "resolve username", func(api *tg.Client) error {
		var err error
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: ref})
		return err
	})
	if err != nil {
		return nil, err
	}

	ch, err := pickChannel(resolved.Chats, ref)
	if err != nil {
		return nil, err
	}
	out := toChannel(ch)
	if out.Username == "" {
		out.Username = ref
	}
	return out, nil
}

func (c *Client) resolveByID(ctx context.Context, id int64) (*models.Channel, error) {
	c.log.Info().Int64("channel_id", id).Msg("telegram: resolving channel id")
	var chats tg.MessagesChatsClass
	err := c.call(ctx, "get channel", func(api *tg.Client) error {
		var err error
		chats, err = api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
		return err
	})
	if err != nil {
		return nil, err
	}

	ch, err := pickChannel(chats.GetChats(), strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	return toChannel(ch), nil
}

// parseChannelID accepts "12345" and the bot-api form "-10012345".
func parseChannelID(ref string) (int64, bool) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, false
	}
	if s := strconv.FormatInt(id, 10); strings.HasPrefix(s, "-100") {
		id, _ = strconv.ParseInt(s[4:], 10, 64)
	}
	if id < 0 {
		id = -id
	}
	return id, id != 0
}

func pickChannel(chats []tg.ChatClass, ref string) (*tg.Channel, error) {
	if len(chats) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, ref)
	}
	for _, chat := range chats {
		switch v := chat.(type) {
		case *tg.Channel:
			return v, nil
		case *tg.ChannelForbidden:
			return nil, fmt.Errorf("channel %s is private or banned: %w", ref, ErrChannelNotFound)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotAChannel, ref)
}

func toChannel(ch *tg.Channel) *models.Channel {
	return &models.Channel{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
	}
}

// GetMessageBatch fetches one history page, newest first. OffsetID is
// exclusive; MinID and MaxID bound the page exclusively. Service entries
// are included with Service set.
func (c *Client) GetMessageBatch(ctx context.Context, channel *models.Channel, req models.BatchRequest) ([]models.Message, error) {
	limit := req.Limit
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit // telegram api limit
	}

	c.log.Debug().
		Int64("channel_id", channel.ID).
		Int("offset_id", req.OffsetID).
		Int("min_id", req.MinID).
		Int("limit", limit).
		Msg("telegram: calling MessagesGetHistory API")

	var history tg.MessagesMessagesClass
	err := c.call(ctx, "get history", func(api *tg.Client) error {
		var err error
		history, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer: &tg.InputPeerChannel{
				ChannelID:  channel.ID,
				AccessHash: channel.AccessHash,
			},
			OffsetID: req.OffsetID,
			Limit:    limit,
			MinID:    req.MinID,
			MaxID:    req.MaxID,
		})
		return err
	})
	if err != nil {
		c.log.Error().Err(err).Int("offset_id", req.OffsetID).Msg("telegram: MessagesGetHistory failed")
		return nil, err
	}

	return extractMessages(history), nil
}

// FetchMedia downloads the attachment of msg into memory. progress is
// called as bytes arrive; a progress error aborts the download.
func (c *Client) FetchMedia(ctx context.Context, msg models.Message, progress func(downloaded, total int64) error) ([]byte, error) {
	loc, err := inputLocation(msg.Media)
	if err != nil {
		return nil, err
	}

	w := &progressWriter{total: media.Size(msg.Media), fn: progress}
	w.buf.Grow(int(w.total))

	err = c.call(ctx, "download media", func(api *tg.Client) error {
		_, err := c.dl.Download(api, loc).Stream(ctx, w)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", msg.ID, err)
	}
	return w.buf.Bytes(), nil
}

// progressWriter buffers a download and reports its progress.
type progressWriter struct {
	buf   bytes.Buffer
	total int64
	fn    func(downloaded, total int64) error
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, _ := w.buf.Write(p)
	if w.fn != nil {
		if err := w.fn(int64(w.buf.Len()), w.total); err != nil {
			return n, err
		}
	}
	return n, nil
}
