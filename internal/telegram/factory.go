package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/blockedby/tg-archiver/internal/config"
)

// NewZapLogger returns the transport logger for gotd. It is silent unless
// debug is set.
func NewZapLogger(debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("mtproto")
}

// NewPersistentClient creates a telegram client that keeps its session and
// peer cache in db, next to the archive ledgers.
func NewPersistentClient(_ context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty = use stored session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(db.Dialector),
			DisableCopyright: true,
			InMemory:         false,
			Logger:           NewZapLogger(cfg.TGDebug),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	return client, nil
}
