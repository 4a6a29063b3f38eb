package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/session"
)

// LoginState is the lifecycle state of a browser-login task.
type LoginState string

const (
	LoginPending       LoginState = "pending"
	LoginOpening       LoginState = "opening"
	LoginWaiting       LoginState = "waiting_for_login"
	LoginWaitingForMFA LoginState = "waiting_for_mfa"
	LoginAuthenticated LoginState = "authenticated"
	LoginFailed        LoginState = "failed"
)

func (s LoginState) terminal() bool {
	return s == LoginAuthenticated || s == LoginFailed
}

// LoginStatus is a point-in-time view of a login task.
type LoginStatus struct {
	ID        string     `json:"id"`
	State     LoginState `json:"state"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
}

// LoginSession is the slice of the session manager a browser login
// drives. A visible browser window sits behind it; the student does the
// actual logging in.
type LoginSession interface {
	CheckAlreadyLoggedIn() bool
	WaitForLogin(timeout time.Duration, onMfa func()) error
	Export() (session.Snapshot, error)
	Close() error
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// Store receives the exported snapshot. Required.
	Store *Store
	// OpenSession opens a visible browser parked on the login page.
	// Required.
	OpenSession func() (LoginSession, error)
	// Timeout bounds how long the student has to finish logging in.
	// Defaults to 5 minutes.
	Timeout time.Duration
	// Logger defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Tracker runs browser-login tasks, at most one at a time.
type Tracker struct {
	store       *Store
	openSession func() (LoginSession, error)
	timeout     time.Duration
	log         logrus.FieldLogger

	mu      sync.Mutex
	tasks   map[string]*LoginStatus
	current string
}

// NewTracker creates a Tracker.
func NewTracker(opts TrackerOptions) (*Tracker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("auth: Store is required")
	}
	if opts.OpenSession == nil {
		return nil, fmt.Errorf("auth: OpenSession is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Tracker{
		store:       opts.Store,
		openSession: opts.OpenSession,
		timeout:     opts.Timeout,
		log:         opts.Logger,
		tasks:       map[string]*LoginStatus{},
	}, nil
}

// StartBrowserLogin opens a visible browser and waits in the background
// for the student to log in. Returns ErrLoginInProgress if a login task
// is already running.
func (t *Tracker) StartBrowserLogin() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != "" && !t.tasks[t.current].State.terminal() {
		return "", ErrLoginInProgress
	}
	task := &LoginStatus{
		ID:        uuid.NewString(),
		State:     LoginPending,
		StartedAt: time.Now(),
	}
	t.tasks[task.ID] = task
	t.current = task.ID
	go t.run(task.ID)
	return task.ID, nil
}

// Status returns a snapshot of one login task.
func (t *Tracker) Status(id string) (LoginStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return LoginStatus{}, ErrTaskNotFound
	}
	return *task, nil
}

func (t *Tracker) setState(id string, state LoginState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[id].State = state
}

func (t *Tracker) fail(id string, err error) {
	t.log.WithError(err).Warn("browser login failed")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[id].State = LoginFailed
	t.tasks[id].Error = err.Error()
}

func (t *Tracker) run(id string) {
	t.setState(id, LoginOpening)
	sess, err := t.openSession()
	if err != nil {
		t.fail(id, fmt.Errorf("open browser: %w", err))
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			sess.Close()
		}
	}()

	if !sess.CheckAlreadyLoggedIn() {
		t.setState(id, LoginWaiting)
		err = sess.WaitForLogin(t.timeout, func() {
			t.setState(id, LoginWaitingForMFA)
		})
		if err != nil {
			t.fail(id, err)
			return
		}
	}

	snapshot, err := sess.Export()
	if err != nil {
		t.fail(id, fmt.Errorf("export session: %w", err))
		return
	}
	if err := t.store.SetSnapshot(snapshot); err != nil {
		t.fail(id, fmt.Errorf("save session: %w", err))
		return
	}
	// Park the open browser so the next sync can reuse it directly
	// instead of restoring from the snapshot.
	if live, ok := sess.(SessionProvider); ok {
		t.store.SetLiveSession(live)
		handedOff = true
	}
	t.setState(id, LoginAuthenticated)
}
