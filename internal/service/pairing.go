package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/domain/relay"
	"github.com/edirooss/coop-relay/internal/identity"
)

// Pairing messages shown to the operator.
const (
	msgRequestingCode = "Requesting pairing code from server..."
	msgReadyToPair    = "Ready to pair. Enter this code in your Coop App."
	msgPairingFailed  = "Pairing failed. Please check your connection or try again."
	msgRelayReady     = "Relay ready. Claimed by your Coop."
	msgCodeNotFound   = "Pairing error: Code not found. Retrying..."
	msgResetNoRelayID = "Error: Relay ID not found. Cannot reset."
	msgResetDone      = "Pairing has been reset. Use the new code."
)

// Pairing is the relay's pairing state machine:
//
//	INITIALIZING → UNPAIRED → PAIRING_IN_PROGRESS → PAIRED
//	PAIRED → UNPAIRED (Reset)
//
// Claim polling runs as the "pairing-poll" task. The transition to PAIRED
// happens at most once per poll task: the response is applied under mu only
// while the task's context is live, and the task is cancelled in the same
// critical section.
type Pairing struct {
	log       *zap.Logger
	api       Backend
	ids       *identityCache
	tasks     *taskSet
	pollEvery time.Duration

	// onPaired and onUnpaired run outside mu after a transition.
	onPaired   func(relayID string)
	onUnpaired func()

	mu    sync.Mutex
	state relay.State
	msg   string
}

func newPairing(log *zap.Logger, api Backend, ids *identityCache, tasks *taskSet, pollEvery time.Duration) *Pairing {
	return &Pairing{
		log:        log.Named("pairing"),
		api:        api,
		ids:        ids,
		tasks:      tasks,
		pollEvery:  pollEvery,
		onPaired:   func(string) {},
		onUnpaired: func() {},
		state:      relay.StateInitializing,
	}
}

// State returns the current lifecycle state.
func (p *Pairing) State() relay.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Message returns the latest operator-facing pairing message.
func (p *Pairing) Message() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msg
}

// Initialize decides the starting state from the stored identity.
//
// A stored relay id with a stored code triggers one status check by code. If
// that check fails for any reason the relay is assumed paired (fail open) and
// the code is kept so the next start checks again.
func (p *Pairing) Initialize(ctx context.Context) error {
	id, err := p.ids.load(ctx)
	if err != nil {
		return err
	}

	switch {
	case id.RelayID == "":
		// First launch, or a code without a relay id which cannot be verified.
		if err := p.RequestCode(ctx); err != nil {
			p.log.Warn("initial pairing code request failed", zap.Error(err))
		}
		return nil

	case id.PairingCode == "":
		p.becomePaired(id.RelayID, msgRelayReady)
		return nil
	}

	res, err := p.api.PairingStatus(ctx, id.PairingCode)
	if err != nil {
		p.log.Warn("pairing check failed; assuming paired",
			zap.String("relay_id", id.RelayID), zap.Error(err))
		p.becomePaired(id.RelayID, msgRelayReady)
		return nil
	}

	if res.Status == backend.PairingStatusClaimed {
		if err := p.ids.set(ctx, identity.KeyPairingCode, ""); err != nil {
			p.log.Error("failed to clear pairing code", zap.Error(err))
		}
		p.becomePaired(id.RelayID, msgRelayReady)
		return nil
	}

	p.mu.Lock()
	p.state = relay.StateUnpaired
	p.msg = "Ready to pair. Waiting for server..."
	p.mu.Unlock()

	p.startPolling(id.PairingCode)
	return nil
}

// RequestCode asks the backend for a fresh code (scoped to the stored relay id
// when there is one), persists it and starts claim polling. On failure the
// relay stays UNPAIRED without an automatic retry.
func (p *Pairing) RequestCode(ctx context.Context) error {
	if p.stopPolling() == relay.StatePaired {
		return ErrAlreadyPaired
	}

	p.mu.Lock()
	p.state = relay.StateUnpaired
	p.msg = msgRequestingCode
	p.mu.Unlock()

	code, err := p.requestAndStore(ctx, p.ids.get().RelayID)
	if err != nil {
		p.setMessage(msgPairingFailed)
		p.resumePolling()
		return err
	}

	p.setMessage(msgReadyToPair)
	p.startPolling(code)
	return nil
}

// Reset re-enters pairing for a relay that has a relay id: the RTSP override
// is cleared, a code scoped to the relay id is requested and polling restarts.
// Without a relay id the reset is rejected and state is left unchanged.
func (p *Pairing) Reset(ctx context.Context) error {
	relayID := p.ids.get().RelayID
	if relayID == "" {
		p.setMessage(msgResetNoRelayID)
		return ErrNoRelayID
	}
	p.stopPolling()

	if err := p.ids.set(ctx, identity.KeyRTSPOverride, ""); err != nil {
		p.log.Error("failed to clear rtsp override", zap.Error(err))
	}

	code, err := p.requestAndStore(ctx, relayID)
	if err != nil {
		p.setMessage("Error: " + err.Error())
		p.resumePolling()
		return err
	}

	p.mu.Lock()
	wasPaired := p.state == relay.StatePaired
	p.state = relay.StateUnpaired
	p.msg = msgResetDone
	p.mu.Unlock()

	p.log.Info("pairing reset", zap.String("relay_id", relayID))
	if wasPaired {
		p.onUnpaired()
	}
	p.startPolling(code)
	return nil
}

func (p *Pairing) requestAndStore(ctx context.Context, relayID string) (string, error) {
	res, err := p.api.RequestPairingCode(ctx, relayID)
	if err != nil {
		p.log.Warn("pairing code request failed", zap.Error(err))
		return "", fmt.Errorf("request pairing code: %w", err)
	}

	if err := p.ids.set(ctx, identity.KeyPairingCode, res.PairingCode); err != nil {
		return "", err
	}
	if err := p.ids.set(ctx, identity.KeyRelayID, res.RelayID); err != nil {
		return "", err
	}

	p.log.Info("pairing code issued", zap.String("relay_id", res.RelayID), zap.String("pairing_code", res.PairingCode))
	return res.PairingCode, nil
}

// stopPolling cancels claim polling and returns the state once a pollOnce
// that already passed its cancellation check has finished.
func (p *Pairing) stopPolling() relay.State {
	p.tasks.Stop(taskPairingPoll)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// resumePolling restarts claim polling for the stored code unless paired.
func (p *Pairing) resumePolling() {
	code := p.ids.get().PairingCode
	if code == "" || p.State() == relay.StatePaired {
		return
	}
	p.startPolling(code)
}

func (p *Pairing) startPolling(code string) {
	p.tasks.Start(taskPairingPoll, func(ctx context.Context) {
		p.pollLoop(ctx, code)
	})
}

func (p *Pairing) pollLoop(ctx context.Context, code string) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if p.pollOnce(ctx, code) {
				return
			}
		}
	}
}

// pollOnce checks the claim status of code and reports whether polling is over.
func (p *Pairing) pollOnce(ctx context.Context, code string) bool {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return true
	}
	if p.state == relay.StateUnpaired {
		p.state = relay.StatePairingInProgress
		p.msg = fmt.Sprintf("Attempting to pair with code: %s...", code)
	}
	p.mu.Unlock()

	res, err := p.api.PairingStatus(ctx, code)

	p.mu.Lock()
	if ctx.Err() != nil {
		// Cancelled while in flight; the response belongs to a stale task.
		p.mu.Unlock()
		return true
	}

	switch {
	case errors.Is(err, backend.ErrNotFound):
		p.msg = msgCodeNotFound
		p.mu.Unlock()
		p.log.Warn("pairing code not found", zap.String("pairing_code", code))
		return false

	case err != nil:
		p.msg = fmt.Sprintf("Pairing error: %v. Retrying...", err)
		p.mu.Unlock()
		p.log.Warn("pairing poll failed", zap.Error(err))
		return false

	case res.Status == backend.PairingStatusClaimed && res.RelayID != "":
		if err := p.ids.set(ctx, identity.KeyRelayID, res.RelayID); err != nil {
			p.msg = "Pairing error: " + err.Error()
			p.mu.Unlock()
			p.log.Error("failed to persist relay id", zap.Error(err))
			return false
		}
		if res.CoopID != "" {
			if err := p.ids.set(ctx, identity.KeyCoopID, res.CoopID); err != nil {
				p.log.Error("failed to persist coop id", zap.Error(err))
			}
		}
		if p.ids.get().PairingCode == code {
			if err := p.ids.set(ctx, identity.KeyPairingCode, ""); err != nil {
				p.log.Error("failed to clear pairing code", zap.Error(err))
			}
		}
		p.state = relay.StatePaired
		p.msg = "Successfully paired! Relay ID: " + res.RelayID
		p.tasks.Stop(taskPairingPoll)
		p.mu.Unlock()

		p.log.Info("relay paired", zap.String("relay_id", res.RelayID), zap.String("coop_id", res.CoopID))
		p.onPaired(res.RelayID)
		return true

	case res.Status == backend.PairingStatusPending:
		p.msg = fmt.Sprintf("Status: Pending. Waiting for code %s to be claimed...", code)
		p.mu.Unlock()
		return false

	default:
		status := res.Status
		if status == "" {
			status = "No status returned"
		}
		p.msg = "Unknown pairing status: " + status
		p.mu.Unlock()
		p.log.Warn("unknown pairing status", zap.String("status", res.Status), zap.String("relay_id", res.RelayID))
		return false
	}
}

func (p *Pairing) becomePaired(relayID, msg string) {
	p.mu.Lock()
	p.state = relay.StatePaired
	p.msg = msg
	p.mu.Unlock()

	p.tasks.Stop(taskPairingPoll)
	p.onPaired(relayID)
}

func (p *Pairing) setMessage(msg string) {
	p.mu.Lock()
	p.msg = msg
	p.mu.Unlock()
}
