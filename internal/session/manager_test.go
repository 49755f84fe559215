package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/browser/browsertest"
	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/vault"
)

var testVault = func() *vault.Vault {
	v, err := vault.New("test-master-secret")
	if err != nil {
		panic(err)
	}
	return v
}()

type fakePublisher struct {
	publish func(ctx context.Context, sess browser.Session, item *db.ContentItem) publisher.Result
	calls   atomic.Int32
}

func (f *fakePublisher) Publish(ctx context.Context, sess browser.Session, item *db.ContentItem, _ *db.Credential) publisher.Result {
	f.calls.Add(1)
	if f.publish == nil {
		return publisher.Result{Success: true, PlatformURL: "https://zhuanlan.zhihu.com/p/1"}
	}
	return f.publish(ctx, sess, item)
}

type fixture struct {
	m        *Manager
	store    *db.Memory
	launcher *browsertest.Launcher
	pub      *fakePublisher

	mu     sync.Mutex
	delays []time.Duration
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxConcurrent:     2,
		PerPlatform:       1,
		DelayMin:          config.Duration(15 * time.Second),
		DelayMax:          config.Duration(30 * time.Second),
		Headless:          true,
		LoginPollAttempts: 120,
		LoginPollInterval: config.Duration(time.Millisecond),
		AuthGrace:         config.Duration(300 * time.Millisecond),
	}
}

func newFixture(t *testing.T, cfg config.SessionConfig, newSession func() *browsertest.Session, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    db.NewMemory(),
		launcher: browsertest.NewLauncher(newSession),
		pub:      &fakePublisher{},
	}
	registry := publisher.NewRegistry()
	registry.Register(publisher.ZhihuPlatform, f.pub)

	m, err := New(cfg, Deps{
		Store:    f.store,
		Vault:    testVault,
		Launcher: f.launcher,
		Registry: registry,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	f.m = m
	return f
}

// record stands in for the publish delay without waiting
func (f *fixture) record(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return ctx.Err()
}

func loggedInState() *browser.State {
	return &browser.State{
		Cookies: []browser.Cookie{{Name: "z_c0", Value: "token", Domain: ".zhihu.com", Path: "/"}},
		Origins: []browser.Origin{},
	}
}

func (f *fixture) storeCredential(t *testing.T, blob string) *db.Credential {
	t.Helper()
	cred, err := f.store.UpsertCredential(context.Background(), db.UpsertCredentialInput{
		Platform:             "zhihu",
		Account:              "writer",
		EncryptedSessionBlob: blob,
		AuthorizedAt:         time.Now(),
	})
	require.NoError(t, err)
	return cred
}

func encryptedState(t *testing.T) string {
	t.Helper()
	blob, err := testVault.EncryptJSON(loggedInState())
	require.NoError(t, err)
	return blob
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.PerPlatform = 0
	_, err = New(cfg, Deps{Store: db.NewMemory(), Vault: testVault, Launcher: browsertest.NewLauncher(nil), Registry: publisher.NewRegistry()})
	assert.Error(t, err)
}

func TestPublish_Success(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.m.sleep = f.record
	f.storeCredential(t, encryptedState(t))

	item := &db.ContentItem{Platform: "zhihu", Title: "t", Body: "b"}
	res, err := f.m.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://zhuanlan.zhihu.com/p/1", res.PlatformURL)

	launches := f.launcher.Launches()
	require.Len(t, launches, 1)
	assert.True(t, launches[0].Headless)
	assert.True(t, launches[0].State.HasCookie("z_c0"))
	assert.Equal(t, 0, f.launcher.Active())

	require.Len(t, f.delays, 1)
	assert.GreaterOrEqual(t, f.delays[0], 15*time.Second)
	assert.LessOrEqual(t, f.delays[0], 30*time.Second)
}

func TestPublish_UnsupportedPlatform(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	_, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "weibo"})
	assert.ErrorIs(t, err, publisher.ErrUnsupportedPlatform)
	assert.Empty(t, f.launcher.Launches())
}

func TestPublish_MissingCredential(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	_, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	assert.ErrorIs(t, err, ErrAuthorizationRequired)
	assert.Empty(t, f.launcher.Launches())
	assert.Zero(t, f.pub.calls.Load())
}

func TestPublish_LegacyPlainJSON(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.m.sleep = f.record
	plain, err := json.Marshal(loggedInState())
	require.NoError(t, err)
	f.storeCredential(t, string(plain))

	res, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu", Body: "b"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPublish_InvalidBlobMarksCredentialInvalid(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	cred := f.storeCredential(t, "not-a-token-and-not-json")

	_, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	assert.ErrorIs(t, err, ErrAuthorizationRequired)
	assert.Contains(t, err.Error(), "re-authorize")

	creds := f.store.Credentials()
	require.Len(t, creds, 1)
	assert.Equal(t, cred.ID, creds[0].ID)
	assert.Equal(t, db.CredentialInvalid, creds[0].Status)

	// The invalid credential is no longer offered
	_, err = f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	assert.ErrorIs(t, err, ErrAuthorizationRequired)
}

func TestPublish_StateWithoutCookiesIsInvalid(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	blob, err := testVault.Encrypt([]byte(`{"origins": []}`))
	require.NoError(t, err)
	f.storeCredential(t, blob)

	_, err = f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	assert.ErrorIs(t, err, ErrAuthorizationRequired)
	assert.Equal(t, db.CredentialInvalid, f.store.Credentials()[0].Status)
}

func TestPublish_AdapterPanicReleasesSession(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.m.sleep = f.record
	f.storeCredential(t, encryptedState(t))
	f.pub.publish = func(context.Context, browser.Session, *db.ContentItem) publisher.Result {
		panic("target closed")
	}

	res, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMsg, "browser crashed")
	assert.Equal(t, 0, f.launcher.Active())

	// The slot was released
	f.pub.publish = nil
	res, err = f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPublish_AdapterFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.m.sleep = f.record
	f.storeCredential(t, encryptedState(t))
	f.pub.publish = func(context.Context, browser.Session, *db.ContentItem) publisher.Result {
		return publisher.Failed("publish button never enabled")
	}

	res, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "publish button never enabled", res.ErrorMsg)
	assert.True(t, f.launcher.Sessions()[0].Closed())
}

func TestPublish_LaunchFailureIsRetryable(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.m.sleep = f.record
	f.storeCredential(t, encryptedState(t))
	f.launcher.Fail()

	_, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	require.Error(t, err)
	assert.ErrorIs(t, err, browsertest.ErrLaunch)
	assert.False(t, errors.Is(err, ErrAuthorizationRequired))
}

func TestPublish_CancelledDuringDelay(t *testing.T) {
	f := newFixture(t, testConfig(), nil, WithJitter(func(_, _ time.Duration) time.Duration { return time.Hour }))
	f.storeCredential(t, encryptedState(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.m.Publish(ctx, &db.ContentItem{Platform: "zhihu"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.launcher.Launches())
}

func TestPublish_PerPlatformCap(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.m.sleep = f.record
	f.storeCredential(t, encryptedState(t))
	f.pub.publish = func(context.Context, browser.Session, *db.ContentItem) publisher.Result {
		time.Sleep(20 * time.Millisecond)
		return publisher.Result{Success: true}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.launcher.Peak())
	assert.Len(t, f.launcher.Launches(), 4)
	assert.Equal(t, 0, f.launcher.Active())
}

func TestPublish_DelayRunsInsideSlot(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.storeCredential(t, encryptedState(t))

	var slotFree []bool
	f.m.sleep = func(ctx context.Context, d time.Duration) error {
		sem := f.m.platformSlots("zhihu")
		free := sem.TryAcquire(1)
		if free {
			sem.Release(1)
		}
		slotFree = append(slotFree, free)
		return f.record(ctx, d)
	}

	_, err := f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, slotFree)
	assert.Len(t, f.delays, 1)
}

func TestRandomDelay(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := randomDelay(15*time.Second, 30*time.Second)
		assert.GreaterOrEqual(t, d, 15*time.Second)
		assert.LessOrEqual(t, d, 30*time.Second)
	}
	assert.Equal(t, 5*time.Second, randomDelay(5*time.Second, time.Second))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
