package auth

import (
	"errors"
	"fmt"

	"github.com/danmuck/tickerctl/internal/protocol"
)

var (
	ErrAuthInProgress      = errors.New("auth: authentication already started")
	ErrUnexpectedChallenge = errors.New("auth: unexpected challenge")
)

// State of the challenge/response flow.
type State int

const (
	Unauthenticated State = iota
	ChallengeRequested
	Authenticated
)

func (s State) String() string {
	switch s {
	case ChallengeRequested:
		return "challenge_requested"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Machine drives Unauthenticated -> ChallengeRequested -> Authenticated.
// Only Reset moves it backwards. It is owned by the socket control loop and
// is not safe for concurrent use.
type Machine struct {
	signer   Signer
	state    State
	creds    Credentials
	hasCreds bool
}

func NewMachine(signer Signer) *Machine {
	if signer == nil {
		signer = HMACSHA512
	}
	return &Machine{signer: signer}
}

func (m *Machine) State() State {
	return m.state
}

// Begin stores creds and returns the challenge request invoke.
func (m *Machine) Begin(creds Credentials) (protocol.Invocation, error) {
	if err := creds.Validate(); err != nil {
		return protocol.Invocation{}, err
	}
	if m.state != Unauthenticated {
		return protocol.Invocation{}, fmt.Errorf("%w: state=%s", ErrAuthInProgress, m.state)
	}
	m.creds = creds
	m.hasCreds = true
	m.state = ChallengeRequested
	return protocol.Invocation{
		Method: protocol.MethodGetAuthContext,
		Args:   []any{creds.Key},
	}, nil
}

// Challenge signs challenge and returns the Authenticate invoke. The hub does
// not acknowledge reliably, so the machine moves to Authenticated right away.
func (m *Machine) Challenge(challenge string) (protocol.Invocation, error) {
	if m.state != ChallengeRequested || !m.hasCreds {
		return protocol.Invocation{}, fmt.Errorf("%w: state=%s", ErrUnexpectedChallenge, m.state)
	}
	signature := m.signer.Sign(m.creds.Secret, challenge)
	m.state = Authenticated
	return protocol.Invocation{
		Method: protocol.MethodAuthenticate,
		Args:   []any{m.creds.Key, signature},
	}, nil
}

// Reset returns to Unauthenticated after a reconnect. Credentials are kept.
func (m *Machine) Reset() {
	m.state = Unauthenticated
}
