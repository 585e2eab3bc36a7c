// Package auth は API の Basic 認証とログイン失敗時のロックアウトを提供します。
package auth

import (
	"crypto/subtle"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/doc-forge/internal/config"
)

var (
	attemptWindow    = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// ContextUserKey は、ハンドラー間で認証済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証情報とクライアントごとの失敗回数を保持します。
type Manager struct {
	username     string
	passwordHash []byte
	now          func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		username:     cfg.AppUsername,
		passwordHash: []byte(cfg.AppPasswordHash),
		now:          time.Now,
		attempts:     make(map[string]*attemptState),
	}
}

// Enabled は認証情報が設定されているかを返します。
func (m *Manager) Enabled() bool {
	return m.username != ""
}

func (m *Manager) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	// ユーザー名が違っても bcrypt は実行して応答時間を揃える
	passOK := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) == nil
	return userOK && passOK
}

func (m *Manager) checkLock(client string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[client]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(client string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[client]
	if !ok || now.Sub(state.firstAttempt) > attemptWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[client] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(client string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, client)
}
