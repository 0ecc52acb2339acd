package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/celestix/gotgproto"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/tg-archiver/internal/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection, one in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedSession(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Exec("CREATE TABLE sessions (version integer primary key, data blob)").Error)
	require.NoError(t, db.Exec("INSERT INTO sessions (version, data) VALUES (1, ?)", []byte(`{"mock":"data"}`)).Error)
}

func testConfig() *config.Config {
	return &config.Config{TGApiID: 12345, TGApiHash: "test_hash"}
}

func TestManager_Init_NoSession(t *testing.T) {
	m := NewManager(testConfig(), newTestDB(t))

	called := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		called = true
		return nil, errors.New("must not be called")
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.False(t, called, "no stored session means no connection attempt")
	assert.False(t, m.HasSession())
}

func TestManager_Init_FactoryError_Unauthorized(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db)
	m := NewManager(testConfig(), db)

	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		return nil, errors.New("factory failure")
	})

	err := m.Init(context.Background())

	assert.NoError(t, err, "Init should not return error even if factory fails")
	assert.Equal(t, StatusUnauthorized, m.GetStatus(), "Status should be Unauthorized on factory error")
	assert.Nil(t, m.GetClient())
}

func TestManager_Init_StoredSession_Ready(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db)
	m := NewManager(testConfig(), db)

	stub := &gotgproto.Client{}
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, got *gorm.DB) (*gotgproto.Client, error) {
		assert.Same(t, db, got)
		return stub, nil
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusReady, m.GetStatus())
	assert.Same(t, stub, m.GetClient())

	// a ready manager refuses a second login
	err := m.StartQR(context.Background(), func(string) {})
	assert.ErrorIs(t, err, ErrAlreadyAuthorized)
}

func TestManager_StartQR_UsesQRFactory(t *testing.T) {
	m := NewManager(testConfig(), newTestDB(t))

	mockErr := errors.New("mock factory called")
	qrCalled := false
	m.SetQRClientFactory(func(cfg *config.Config) (*QRClientBundle, error) {
		qrCalled = true
		return nil, mockErr
	})
	regularCalled := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		regularCalled = true
		return nil, errors.New("regular factory called")
	})

	var receivedURL string
	err := m.StartQR(context.Background(), func(url string) { receivedURL = url })

	assert.True(t, qrCalled, "StartQR must use the QR client factory")
	assert.False(t, regularCalled, "StartQR must not use the regular client factory")
	assert.ErrorIs(t, err, mockErr)
	assert.Empty(t, receivedURL, "URL should be empty if factory fails")
	assert.False(t, m.IsQRInProgress(), "flow state is cleared on exit")
}

func TestManager_SaveSession(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(testConfig(), db)

	require.NoError(t, m.saveSession(&session.Data{DC: 2, Addr: "149.154.167.40:443", AuthKey: []byte("key")}))
	assert.True(t, m.HasSession())

	// saving again replaces the single row
	require.NoError(t, m.saveSession(&session.Data{DC: 4}))
	var count int64
	require.NoError(t, db.Table(sessionsTable).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Error(t, m.saveSession(nil))
}

func TestManager_CancelQR_Idle(t *testing.T) {
	m := NewManager(testConfig(), newTestDB(t))
	assert.NotPanics(t, m.CancelQR)
	assert.False(t, m.IsQRInProgress())
}

func TestManager_GetStatus_Concurrent(t *testing.T) {
	m := NewManager(&config.Config{}, newTestDB(t))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m.GetStatus()
		}()
	}

	close(start)
	wg.Wait()
}

func TestManager_Stop_Graceful(t *testing.T) {
	m := NewManager(&config.Config{}, newTestDB(t))

	// Should not panic
	assert.NotPanics(t, func() {
		m.Stop()
	})
}
