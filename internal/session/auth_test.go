package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/browser/browsertest"
	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/publisher"
)

const (
	signinURL  = "https://www.zhihu.com/signin"
	profileTag = `<html><body><div class="AppHeader-profileText"> 张三 </div></body></html>`
)

func waitForStatus(t *testing.T, m *Manager, task AuthTask, status AuthStatus) AuthTask {
	t.Helper()
	var got AuthTask
	require.Eventually(t, func() bool {
		var err error
		got, err = m.AuthTask(task.ID)
		return err == nil && got.Status == status
	}, 2*time.Second, time.Millisecond, "task never reached %s", status)
	return got
}

func TestAuthorization_SuccessDetectedOnTenthPoll(t *testing.T) {
	locations := make([]string, 0, 10)
	for i := 0; i < 9; i++ {
		locations = append(locations, signinURL)
	}
	locations = append(locations, "https://www.zhihu.com/hot")

	sess := browsertest.NewSession().
		WithLocations(locations...).
		WithState(loggedInState()).
		WithHTML(profileTag)
	f := newFixture(t, testConfig(), func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)
	assert.Equal(t, AuthPending, task.Status)

	done := waitForStatus(t, f.m, task, AuthSuccess)
	assert.Equal(t, "张三", done.Account)
	require.NotNil(t, done.CredentialID)
	assert.Equal(t, 10, sess.LocationCalls())

	launches := f.launcher.Launches()
	require.Len(t, launches, 1)
	assert.False(t, launches[0].Headless)
	assert.Equal(t, signinURL, launches[0].StartURL)

	creds := f.store.Credentials()
	require.Len(t, creds, 1)
	assert.Equal(t, "zhihu", creds[0].Platform)
	assert.Equal(t, "张三", creds[0].Account)
	assert.Equal(t, *done.CredentialID, creds[0].ID)

	var stored browser.State
	require.NoError(t, testVault.DecryptJSON(creds[0].EncryptedSessionBlob, &stored))
	assert.True(t, stored.HasCookie("z_c0"))

	// Still visible during the grace period, closed browser
	assert.True(t, sess.Closed())
	_, err = f.m.AuthTask(task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := f.m.AuthTask(task.ID)
		return err == ErrAuthTaskNotFound
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, f.store.Credentials(), 1)
}

func TestAuthorization_CookieSignal(t *testing.T) {
	sess := browsertest.NewSession().WithLocations(signinURL).WithHTML(`<html></html>`)
	sess.SetCookie("z_c0", "token")
	f := newFixture(t, testConfig(), func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)

	done := waitForStatus(t, f.m, task, AuthSuccess)
	assert.Equal(t, "zhihu_User", done.Account)
	assert.Equal(t, 0, sess.LocationCalls())
}

func TestAuthorization_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 5
	sess := browsertest.NewSession().WithLocations(signinURL)
	f := newFixture(t, cfg, func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)

	done := waitForStatus(t, f.m, task, AuthTimeout)
	assert.NotEmpty(t, done.Error)
	assert.Equal(t, 5, sess.LocationCalls())
	assert.True(t, sess.Closed())
	assert.Empty(t, f.store.Credentials())
}

func TestAuthorization_Confirm(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 1 << 30
	cfg.LoginPollInterval = config.Duration(5 * time.Millisecond)
	sess := browsertest.NewSession().
		WithLocations(signinURL).
		WithState(loggedInState()).
		WithHTML(profileTag)
	f := newFixture(t, cfg, func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)
	waitForStatus(t, f.m, task, AuthRunning)

	require.NoError(t, f.m.Confirm(task.ID))
	done := waitForStatus(t, f.m, task, AuthSuccess)
	assert.Equal(t, "张三", done.Account)
	assert.Len(t, f.store.Credentials(), 1)

	// A second confirm has nothing left to do
	assert.ErrorIs(t, f.m.Confirm(task.ID), ErrAuthTaskNotRunning)
}

func TestAuthorization_ConfirmBeforeLogin(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 1 << 30
	cfg.LoginPollInterval = config.Duration(5 * time.Millisecond)
	notYet := &browser.State{Cookies: []browser.Cookie{{Name: "_xsrf", Value: "x"}}}
	sess := browsertest.NewSession().WithLocations(signinURL).WithState(notYet)
	f := newFixture(t, cfg, func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)
	waitForStatus(t, f.m, task, AuthRunning)

	require.NoError(t, f.m.Confirm(task.ID))
	require.Eventually(t, func() bool {
		got, err := f.m.AuthTask(task.ID)
		return err == nil && got.Error != ""
	}, 2*time.Second, time.Millisecond)

	got, err := f.m.AuthTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, AuthRunning, got.Status)
	assert.Empty(t, f.store.Credentials())
	assert.False(t, sess.Closed())
}

func TestAuthorization_LaunchFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.launcher.Fail()

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)

	done := waitForStatus(t, f.m, task, AuthFailed)
	assert.Contains(t, done.Error, "browser crashed")
}

func TestAuthorization_UnsupportedPlatform(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	_, err := f.m.StartAuthorization(context.Background(), "weibo")
	assert.ErrorIs(t, err, publisher.ErrUnsupportedPlatform)
}

func TestCloseAuthTask(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 1 << 30
	sess := browsertest.NewSession().WithLocations(signinURL)
	f := newFixture(t, cfg, func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)
	waitForStatus(t, f.m, task, AuthRunning)

	require.NoError(t, f.m.CloseAuthTask(task.ID))
	_, err = f.m.AuthTask(task.ID)
	assert.ErrorIs(t, err, ErrAuthTaskNotFound)
	assert.True(t, sess.Closed())
	assert.ErrorIs(t, f.m.CloseAuthTask(task.ID), ErrAuthTaskNotFound)
	assert.ErrorIs(t, f.m.Confirm(task.ID), ErrAuthTaskNotFound)
}

func TestManagerClose_TearsDownAuthSessions(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 1 << 30
	sess := browsertest.NewSession().WithLocations(signinURL)
	f := newFixture(t, cfg, func() *browsertest.Session { return sess })

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)
	waitForStatus(t, f.m, task, AuthRunning)

	require.NoError(t, f.m.Close())
	assert.True(t, sess.Closed())
	assert.Empty(t, f.m.AuthTasks())

	_, err = f.m.StartAuthorization(context.Background(), "zhihu")
	assert.Error(t, err)
}

func countStatus(tasks []AuthTask, status AuthStatus) int {
	n := 0
	for _, task := range tasks {
		if task.Status == status {
			n++
		}
	}
	return n
}

func TestAuthorization_QueuesOnSessionCaps(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 1 << 30
	f := newFixture(t, cfg, func() *browsertest.Session {
		return browsertest.NewSession().WithLocations(signinURL)
	})

	for i := 0; i < 4; i++ {
		_, err := f.m.StartAuthorization(context.Background(), "zhihu")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return countStatus(f.m.AuthTasks(), AuthRunning) == 1
	}, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	tasks := f.m.AuthTasks()
	assert.Equal(t, 1, countStatus(tasks, AuthRunning))
	assert.Equal(t, 3, countStatus(tasks, AuthPending))
	assert.Len(t, f.launcher.Launches(), 1)

	// Closing the open browser lets the next task in
	for _, task := range tasks {
		if task.Status == AuthRunning {
			require.NoError(t, f.m.CloseAuthTask(task.ID))
		}
	}
	require.Eventually(t, func() bool {
		return countStatus(f.m.AuthTasks(), AuthRunning) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Len(t, f.launcher.Launches(), 2)

	// Queued tasks close without ever launching
	remaining := f.m.AuthTasks()
	for _, task := range remaining {
		if task.Status == AuthPending {
			require.NoError(t, f.m.CloseAuthTask(task.ID))
		}
	}
	for _, task := range remaining {
		if task.Status == AuthRunning {
			require.NoError(t, f.m.CloseAuthTask(task.ID))
		}
	}
	assert.Len(t, f.launcher.Launches(), 2)
	assert.Equal(t, 0, f.launcher.Active())
	assert.LessOrEqual(t, f.launcher.Peak(), cfg.PerPlatform)
	assert.LessOrEqual(t, f.launcher.Peak(), cfg.MaxConcurrent)
}

func TestAuthorization_HoldsSlotAgainstPublish(t *testing.T) {
	cfg := testConfig()
	cfg.LoginPollAttempts = 1 << 30
	sess := browsertest.NewSession().WithLocations(signinURL)
	f := newFixture(t, cfg, func() *browsertest.Session { return sess })
	f.m.sleep = f.record

	task, err := f.m.StartAuthorization(context.Background(), "zhihu")
	require.NoError(t, err)
	waitForStatus(t, f.m, task, AuthRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.storeCredential(t, encryptedState(t))
	_, err = f.m.Publish(ctx, &db.ContentItem{Platform: "zhihu"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, f.launcher.Launches(), 1)

	require.NoError(t, f.m.CloseAuthTask(task.ID))
	_, err = f.m.Publish(context.Background(), &db.ContentItem{Platform: "zhihu"})
	require.NoError(t, err)
	assert.Len(t, f.launcher.Launches(), 2)
}

func TestExtractAccount(t *testing.T) {
	platform := publisher.ZhihuPlatform
	assert.Equal(t, "张三", extractAccount(profileTag, platform))
	assert.Equal(t, "李四", extractAccount(`<a class="UserLink-link">李四</a>`, platform))
	assert.Equal(t, "zhihu_User", extractAccount(`<div class="Other">x</div>`, platform))
	assert.Equal(t, "zhihu_User", extractAccount("", platform))
}

func TestLoggedIn(t *testing.T) {
	zhihu := publisher.ZhihuPlatform
	assert.True(t, loggedIn(loggedInState(), zhihu))
	assert.False(t, loggedIn(&browser.State{}, zhihu))

	generic := publisher.Platform{ID: "generic"}
	many := &browser.State{}
	for i := 0; i < 6; i++ {
		many.Cookies = append(many.Cookies, browser.Cookie{Name: string(rune('a' + i)), Value: "v"})
	}
	assert.True(t, loggedIn(many, generic))
	assert.False(t, loggedIn(&browser.State{Cookies: many.Cookies[:5]}, generic))
}
