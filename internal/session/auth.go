package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/publisher"
)

// AuthStatus is the state of an authorization task
type AuthStatus string

// AuthStatus constants
const (
	AuthPending AuthStatus = "PENDING"
	AuthRunning AuthStatus = "RUNNING"
	AuthSuccess AuthStatus = "SUCCESS"
	AuthFailed  AuthStatus = "FAILED"
	AuthTimeout AuthStatus = "TIMEOUT"
)

// Terminal reports whether the task has finished
func (s AuthStatus) Terminal() bool {
	return s == AuthSuccess || s == AuthFailed || s == AuthTimeout
}

var (
	// ErrAuthTaskNotFound is returned for unknown or expired task ids
	ErrAuthTaskNotFound = errors.New("auth task not found")
	// ErrAuthTaskNotRunning is returned when confirming a task that is not waiting for login
	ErrAuthTaskNotRunning = errors.New("auth task is not running")
	errManagerClosed      = errors.New("session manager closed")
)

const finalizeTimeout = 30 * time.Second

// AuthTask is a snapshot of one manual authorization flow
type AuthTask struct {
	ID           uuid.UUID  `json:"id"`
	Platform     string     `json:"platform"`
	Status       AuthStatus `json:"status"`
	Account      string     `json:"account,omitempty"`
	CredentialID *uuid.UUID `json:"credential_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AuthEventKind says what produced an AuthEvent
type AuthEventKind string

// AuthEventKind constants
const (
	// AuthDetected is emitted by the poller when the page shows a login
	AuthDetected AuthEventKind = "detected"
	// AuthConfirmed is emitted when the operator reports the login as done
	AuthConfirmed AuthEventKind = "confirmed"
)

// AuthEvent asks the manager to finalize an authorization task
type AuthEvent struct {
	TaskID uuid.UUID
	Kind   AuthEventKind
}

type authTask struct {
	mu         sync.Mutex
	info       AuthTask
	platform   publisher.Platform
	session    browser.Session
	cancel     context.CancelFunc
	polling    bool
	finalizing bool
	settling   bool
	removal    *time.Timer
	release    func()
}

// releaseSlot gives the task's session slot back. It is safe to call more
// than once.
func (t *authTask) releaseSlot() {
	t.mu.Lock()
	release := t.release
	t.release = nil
	t.mu.Unlock()
	if release != nil {
		release()
	}
}

func (t *authTask) snapshot() AuthTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.info
	if info.CredentialID != nil {
		id := *info.CredentialID
		info.CredentialID = &id
	}
	return info
}

// teardown stops polling and closes the browser
func (t *authTask) teardown() {
	t.cancel()
	t.mu.Lock()
	sess := t.session
	t.session = nil
	if t.removal != nil {
		t.removal.Stop()
	}
	if !t.info.Status.Terminal() {
		t.info.Status = AuthFailed
		t.info.Error = "authorization cancelled"
	}
	t.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	t.releaseSlot()
}

// StartAuthorization opens the platform sign-in page in a visible browser and
// waits in the background for the operator to log in.
func (m *Manager) StartAuthorization(_ context.Context, platformID string) (AuthTask, error) {
	platform, err := m.registry.Platform(platformID)
	if err != nil {
		return AuthTask{}, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	t := &authTask{
		info: AuthTask{
			ID:        uuid.New(),
			Platform:  platformID,
			Status:    AuthPending,
			CreatedAt: m.now(),
		},
		platform: platform,
		cancel:   cancel,
		polling:  true,
	}

	m.tasksMu.Lock()
	select {
	case <-m.done:
		m.tasksMu.Unlock()
		cancel()
		return AuthTask{}, errManagerClosed
	default:
	}
	m.tasks[t.info.ID] = t
	m.wg.Add(1)
	m.tasksMu.Unlock()

	m.log.Info("authorization started", "task_id", t.info.ID, "platform", platformID)
	go m.runAuthorization(pollCtx, t)
	return t.snapshot(), nil
}

func (m *Manager) runAuthorization(ctx context.Context, t *authTask) {
	defer m.wg.Done()
	defer func() {
		t.mu.Lock()
		t.polling = false
		t.mu.Unlock()
	}()

	// Sign-in browsers count against the same caps as publish sessions and
	// stay PENDING while they queue.
	release, err := m.acquire(ctx, t.platform.ID)
	if err != nil {
		return
	}
	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		release()
		return
	}
	t.release = release
	t.mu.Unlock()

	sess, err := m.launcher.Launch(ctx, browser.Options{Headless: false, StartURL: t.platform.SignInURL})
	if err != nil {
		m.settle(t, false, func(info *AuthTask) {
			info.Status = AuthFailed
			info.Error = fmt.Sprintf("browser crashed: %v", err)
		})
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		_ = sess.Close()
		t.releaseSlot()
		return
	}
	t.session = sess
	t.info.Status = AuthRunning
	t.mu.Unlock()

	interval := m.cfg.LoginPollInterval.D()
	for i := 1; i <= m.cfg.LoginPollAttempts; i++ {
		if err := m.sleep(ctx, interval); err != nil {
			return
		}
		ok, err := detectLogin(ctx, sess, t.platform)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Debug("login check failed", "task_id", t.info.ID, "attempt", i, "error", err)
			continue
		}
		if ok {
			m.log.Info("login detected", "task_id", t.info.ID, "attempt", i)
			if err := m.emit(AuthEvent{TaskID: t.info.ID, Kind: AuthDetected}); err != nil {
				m.log.Debug("dropping login signal", "task_id", t.info.ID, "error", err)
			}
			return
		}
	}

	m.log.Warn("authorization timed out", "task_id", t.info.ID, "platform", t.platform.ID,
		"waited", interval*time.Duration(m.cfg.LoginPollAttempts))
	// A confirm being finalized right now settles the timeout itself
	t.mu.Lock()
	t.polling = false
	t.mu.Unlock()
	m.settle(t, false, func(info *AuthTask) {
		info.Status = AuthTimeout
		info.Error = "authorization timed out"
	})
}

func detectLogin(ctx context.Context, sess browser.Session, platform publisher.Platform) (bool, error) {
	if platform.LoginCookie != "" {
		ok, err := sess.HasCookie(ctx, platform.LoginCookie)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	loc, err := sess.Location(ctx)
	if err != nil {
		return false, err
	}
	for _, marker := range platform.LoginURLs {
		if strings.Contains(loc, marker) {
			return true, nil
		}
	}
	return false, nil
}

// Confirm reports that the operator finished logging in
func (m *Manager) Confirm(id uuid.UUID) error {
	t := m.task(id)
	if t == nil {
		return ErrAuthTaskNotFound
	}
	if status := t.snapshot().Status; status != AuthRunning {
		return fmt.Errorf("%w: %s", ErrAuthTaskNotRunning, status)
	}
	return m.emit(AuthEvent{TaskID: id, Kind: AuthConfirmed})
}

func (m *Manager) emit(ev AuthEvent) error {
	select {
	case m.authEvents <- ev:
		return nil
	case <-m.done:
		return errManagerClosed
	}
}

func (m *Manager) consumeAuthEvents() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.authEvents:
			m.handleAuthEvent(ev)
		}
	}
}

func (m *Manager) handleAuthEvent(ev AuthEvent) {
	t := m.task(ev.TaskID)
	if t == nil {
		m.log.Warn("auth event for unknown task", "task_id", ev.TaskID, "kind", ev.Kind)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("authorization finalize panicked", "task_id", ev.TaskID, "panic", r)
			m.settle(t, true, func(info *AuthTask) {
				info.Status = AuthFailed
				info.Error = fmt.Sprintf("finalize failed: %v", r)
			})
		}
	}()
	m.finalize(t, ev.Kind)
}

// finalize saves the logged-in session as the platform credential
func (m *Manager) finalize(t *authTask, kind AuthEventKind) {
	t.mu.Lock()
	if t.info.Status != AuthRunning || t.finalizing || t.session == nil {
		t.mu.Unlock()
		return
	}
	t.finalizing = true
	sess := t.session
	id := t.info.ID
	t.mu.Unlock()

	fail := func(msg string) {
		m.log.Error("authorization failed", "task_id", id, "platform", t.platform.ID, "error", msg)
		m.settle(t, true, func(info *AuthTask) {
			info.Status = AuthFailed
			info.Error = msg
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	state, err := sess.State(ctx)
	if err != nil {
		fail(fmt.Sprintf("failed to read session: %v", err))
		return
	}

	if !loggedIn(state, t.platform) {
		if kind == AuthDetected {
			fail("login signal seen but the session carries no credential")
			return
		}
		t.mu.Lock()
		t.finalizing = false
		t.info.Error = "not logged in yet, finish signing in and confirm again"
		polling := t.polling
		t.mu.Unlock()
		if !polling {
			m.settle(t, false, func(info *AuthTask) {
				info.Status = AuthTimeout
				info.Error = "authorization timed out"
			})
		}
		return
	}
	t.cancel()

	html, err := sess.HTML(ctx)
	if err != nil {
		m.log.Debug("failed to read page for account name", "task_id", id, "error", err)
	}
	account := extractAccount(html, t.platform)

	blob, err := m.encodeState(state)
	if err != nil {
		fail(err.Error())
		return
	}

	cred, err := m.store.UpsertCredential(ctx, db.UpsertCredentialInput{
		Platform:             t.platform.ID,
		Account:              account,
		EncryptedSessionBlob: blob,
		AuthorizedAt:         m.now(),
	})
	if err != nil {
		fail(fmt.Sprintf("failed to save credential: %v", err))
		return
	}

	m.log.Info("account authorized", "task_id", id, "platform", t.platform.ID, "account", account)
	m.settle(t, true, func(info *AuthTask) {
		info.Status = AuthSuccess
		info.Account = account
		info.CredentialID = &cred.ID
		info.Error = ""
	})
}

// settle moves a task to a terminal state, closes its browser and schedules
// its removal once the grace period has passed. Without force it leaves a
// task that is being finalized alone.
func (m *Manager) settle(t *authTask, force bool, apply func(info *AuthTask)) {
	t.mu.Lock()
	if t.info.Status.Terminal() || t.settling || (t.finalizing && !force) {
		t.mu.Unlock()
		return
	}
	t.settling = true
	sess := t.session
	t.session = nil
	id := t.info.ID
	t.mu.Unlock()

	t.cancel()
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Warn("failed to close auth session", "task_id", id, "error", err)
		}
	}
	t.releaseSlot()

	t.mu.Lock()
	apply(&t.info)
	t.finalizing = false
	t.removal = time.AfterFunc(m.cfg.AuthGrace.D(), func() { m.removeTask(id, t) })
	t.mu.Unlock()
}

func (m *Manager) removeTask(id uuid.UUID, t *authTask) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	if m.tasks[id] == t {
		delete(m.tasks, id)
		m.log.Debug("auth task expired", "task_id", id)
	}
}

func (m *Manager) task(id uuid.UUID) *authTask {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	return m.tasks[id]
}

// AuthTask returns a snapshot of a task
func (m *Manager) AuthTask(id uuid.UUID) (AuthTask, error) {
	t := m.task(id)
	if t == nil {
		return AuthTask{}, ErrAuthTaskNotFound
	}
	return t.snapshot(), nil
}

// AuthTasks lists live tasks, newest first
func (m *Manager) AuthTasks() []AuthTask {
	m.tasksMu.Lock()
	tasks := make([]*authTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.tasksMu.Unlock()

	out := make([]AuthTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CloseAuthTask cancels a task and releases its browser immediately
func (m *Manager) CloseAuthTask(id uuid.UUID) error {
	m.tasksMu.Lock()
	t, ok := m.tasks[id]
	delete(m.tasks, id)
	m.tasksMu.Unlock()
	if !ok {
		return ErrAuthTaskNotFound
	}
	t.teardown()
	m.log.Info("auth task closed", "task_id", id)
	return nil
}
