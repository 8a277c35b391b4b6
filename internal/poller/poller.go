package poller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/monitoring"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/userdata"
	"github.com/voicelink/voicelink/internal/voice"
)

// Client is the slice of the API client the poller needs.
type Client interface {
	FetchUnread(ctx context.Context) (*voice.UnreadResponse, error)
	FetchInbox(ctx context.Context) (*voice.InboxResponse, error)
}

// Profile reloads the account profile when the session id rotates.
type Profile interface {
	SessionChanged(r string) bool
	Load(ctx context.Context) (*voice.UserData, error)
}

// Poller drives the unread-count cycle: fetch, reconcile against the
// stored count, and announce increases. Failed cycles back off
// exponentially; a client-only account suspends polling entirely.
type Poller struct {
	client   Client
	profile  Profile
	store    *store.Store
	log      *logging.Logger
	metrics  *monitoring.Metrics
	notifier *Notifier
	badge    BadgeSink
	animator *Animator
	cfg      config.PollConfig

	mu       sync.Mutex
	failures int
	wake     chan struct{}
}

// New creates a poller. notifier, badge, and animator may be nil when
// the corresponding surface is absent.
func New(client Client, profile Profile, st *store.Store, cfg config.PollConfig, log *logging.Logger) *Poller {
	return &Poller{
		client:  client,
		profile: profile,
		store:   st,
		log:     log,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
}

// WithMetrics attaches a metrics registry.
func (p *Poller) WithMetrics(m *monitoring.Metrics) *Poller {
	p.metrics = m
	return p
}

// WithNotifier attaches the new-message announcer.
func (p *Poller) WithNotifier(n *Notifier) *Poller {
	p.notifier = n
	return p
}

// WithBadge attaches the badge surface.
func (p *Poller) WithBadge(b BadgeSink) *Poller {
	p.badge = b
	return p
}

// WithAnimator attaches the icon spinner.
func (p *Poller) WithAnimator(a *Animator) *Poller {
	p.animator = a
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if p.store.IsSet(store.KeyIsClient) {
			// Nothing to poll for until the account changes.
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
			continue
		}

		if err := p.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn("poll cycle failed",
				zap.Int("failures", p.failureCount()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-time.After(p.Interval()):
		}
	}
}

// PollNow wakes the loop for an immediate cycle, used after the user
// acts on the inbox or changes options.
func (p *Poller) PollNow() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Poll runs one cycle.
func (p *Poller) Poll(ctx context.Context) error {
	resp, err := p.client.FetchUnread(ctx)
	if err != nil {
		return p.fail(err)
	}

	if resp.UnreadCounts == nil {
		return p.fail(fmt.Errorf("unread: malformed response"))
	}

	p.Reset()
	p.store.Set(store.KeyLoggedOut, "")

	if resp.PollInterval > 0 {
		p.store.Set(store.KeyPollInterval, strconv.Itoa(resp.PollInterval))
	}

	if p.profile != nil && p.profile.SessionChanged(resp.R) {
		p.log.Info("session id rotated, reloading profile", zap.String("session", resp.R))
		if _, err := p.profile.Load(ctx); err != nil {
			return p.fail(err)
		}
	}

	count, ok := resp.InboxCount()
	if !ok {
		p.suspendClientOnly()
		p.record("client_only")
		return nil
	}

	p.reconcile(ctx, count)
	p.record("ok")
	return nil
}

// Interval returns the wait before the next cycle: the base interval
// doubled per consecutive failure, clamped to the configured bounds.
// The server may override the base through the stored poll interval.
func (p *Poller) Interval() time.Duration {
	base := p.cfg.MinInterval
	if sec := p.store.GetInt(store.KeyPollInterval, 0); sec > 0 {
		base = time.Duration(sec) * time.Second
	}

	interval := base
	for i := 0; i < p.failureCount(); i++ {
		interval *= 2
		if interval >= p.cfg.MaxInterval {
			break
		}
	}
	if interval < p.cfg.MinInterval {
		interval = p.cfg.MinInterval
	}
	if interval > p.cfg.MaxInterval {
		interval = p.cfg.MaxInterval
	}
	return interval
}

// reconcile applies a fresh count against the stored one and announces
// an increase.
func (p *Poller) reconcile(ctx context.Context, count int) {
	prev := p.store.GetInt(store.KeyUnreadCount, CountUnknown)
	p.store.Set(store.KeyUnreadCount, strconv.Itoa(count))
	if p.metrics != nil {
		p.metrics.UnreadCount.Set(float64(count))
	}
	p.setBadge(count)

	// Only a change from a known count acts: the first poll after
	// startup or re-login stays quiet.
	if prev < 0 || count == prev {
		return
	}
	if count < prev {
		// A drop redraws with one rotation, no sound or notification.
		if p.animator != nil {
			p.animator.Animate(ctx)
		}
		return
	}
	p.log.Info("unread count rose", zap.Int("from", prev), zap.Int("to", count))
	p.announce(ctx)
}

// announce fetches the inbox for the newest thread, notifies, and spins
// the icon.
func (p *Poller) announce(ctx context.Context) {
	if p.notifier != nil {
		inbox, err := p.client.FetchInbox(ctx)
		if err != nil {
			p.log.Warn("inbox fetch for notification failed", zap.Error(err))
		} else {
			p.notifier.NotifyNewest(inbox)
			if p.metrics != nil {
				p.metrics.NotificationsSent.Inc()
			}
		}
	}
	if p.animator != nil {
		p.animator.Animate(ctx)
	}
}

// suspendClientOnly handles an account with no inbox label: a
// client-only account has no hosted inbox, so polling is pointless.
func (p *Poller) suspendClientOnly() {
	p.log.Info("client-only account, suspending polling")
	p.store.Set(store.KeyIsClient, "1")
	p.store.Set(store.KeyUnreadCount, "0")
	p.store.Delete(store.KeyData)
	p.setBadge(0)
}

func (p *Poller) fail(err error) error {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.PollFailures.Inc()
	}

	if errors.Is(err, voice.ErrLoggedOut) {
		p.store.Set(store.KeyLoggedOut, "1")
		p.store.Set(store.KeyUnreadCount, strconv.Itoa(CountLoggedOut))
		p.setBadge(CountLoggedOut)
		p.record("logged_out")
		return err
	}
	p.record("error")
	return err
}

func (p *Poller) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordPollCycle(outcome, p.Interval())
	}
}

func (p *Poller) setBadge(count int) {
	if p.badge == nil {
		return
	}
	text, grayed := BadgeText(count)
	p.badge.SetBadge(text, grayed)
}

// Reset clears failure state, used on success and after the account
// changes.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}

func (p *Poller) failureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

var _ Profile = (*userdata.Manager)(nil)
