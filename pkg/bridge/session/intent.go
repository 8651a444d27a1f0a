package session

import (
	"strings"
	"sync"
	"time"
)

type Intent int

const (
	IntentNone Intent = iota
	IntentTransfer
	IntentCollaborate
)

// IntentClassifier decides what a customer utterance asks for. The default
// is phrase matching against configured lexicons; a model-backed classifier
// can be swapped in without touching the state machine.
type IntentClassifier interface {
	Classify(utterance string) Intent
}

// Lexicons holds the phrase lists the intent machinery matches against. All
// entries are expected lowercase.
type Lexicons struct {
	ConsentWords    []string
	NegationWords   []string
	TransferPhrases []string
	CollabPhrases   []string
}

type phraseClassifier struct {
	transfer []string
	collab   []string
}

// NewPhraseClassifier builds the default lexicon-matching classifier.
// Collaboration phrases are checked first so a collaboration request inside
// a transfer-pending window is never mistaken for transfer consent.
func NewPhraseClassifier(lex Lexicons) IntentClassifier {
	return &phraseClassifier{transfer: lex.TransferPhrases, collab: lex.CollabPhrases}
}

func (c *phraseClassifier) Classify(utterance string) Intent {
	lowered := strings.ToLower(utterance)
	for _, p := range c.collab {
		if strings.Contains(lowered, p) {
			return IntentCollaborate
		}
	}
	for _, p := range c.transfer {
		if strings.Contains(lowered, p) {
			return IntentTransfer
		}
	}
	return IntentNone
}

// intentAction is what the session should do after a customer utterance has
// been run through the tracker.
type intentAction int

const (
	actionNone intentAction = iota
	actionTransfer
	actionCollaborate
)

// intentTracker is the transfer/collaboration state machine layered on the
// transcript stream. Pending states expire after the consent timeout;
// collaboration is checked before transfer and suppresses it while pending.
type intentTracker struct {
	classifier IntentClassifier
	consent    map[string]struct{}
	negation   map[string]struct{}
	timeout    time.Duration
	now        func() time.Time

	mu              sync.Mutex
	transferPending bool
	transferSince   time.Time
	collabPending   bool
	collabSince     time.Time
	storedUtterance string
}

func newIntentTracker(classifier IntentClassifier, lex Lexicons, timeout time.Duration, now func() time.Time) *intentTracker {
	if now == nil {
		now = time.Now
	}
	return &intentTracker{
		classifier: classifier,
		consent:    wordSet(lex.ConsentWords),
		negation:   wordSet(lex.NegationWords),
		timeout:    timeout,
		now:        now,
	}
}

// ObserveAgentReply watches the agent's own utterances for offers that open
// a pending-consent window. It reports the offer it registered so the caller
// can store the utterance that prompted it (see OfferCollaboration).
func (t *intentTracker) ObserveAgentReply(reply string) Intent {
	intent := t.classifyOffer(reply)
	if intent == IntentNone {
		return IntentNone
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch intent {
	case IntentCollaborate:
		t.collabPending = true
		t.collabSince = t.now()
	case IntentTransfer:
		if t.collabPending {
			return IntentNone
		}
		t.transferPending = true
		t.transferSince = t.now()
	}
	return intent
}

// classifyOffer reuses the customer classifier on agent phrasing: an agent
// offering "transfer you to a representative" trips the same lexicon.
func (t *intentTracker) classifyOffer(reply string) Intent {
	lowered := strings.ToLower(reply)
	if !strings.Contains(lowered, "transfer") &&
		!strings.Contains(lowered, "connect you") &&
		!strings.Contains(lowered, "consult") &&
		!strings.Contains(lowered, "specialist") {
		return IntentNone
	}
	if strings.Contains(lowered, "consult") || strings.Contains(lowered, "specialist") {
		return IntentCollaborate
	}
	return IntentTransfer
}

// ObserveCustomerUtterance advances the state machine for one customer
// utterance and reports the action the session should take. The returned
// stored utterance is the one to dispatch when collaboration was pending.
func (t *intentTracker) ObserveCustomerUtterance(utterance string) (intentAction, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()

	intent := t.classifier.Classify(utterance)

	// Explicit collaboration requests dispatch immediately and clear any
	// pending window.
	if intent == IntentCollaborate {
		t.clearLocked()
		return actionCollaborate, utterance
	}

	if t.collabPending {
		if t.consents(utterance) {
			stored := t.storedUtterance
			if stored == "" {
				stored = utterance
			}
			t.clearLocked()
			return actionCollaborate, stored
		}
		t.clearLocked()
		return actionNone, ""
	}

	if t.transferPending {
		if t.consents(utterance) {
			t.clearLocked()
			return actionTransfer, utterance
		}
		t.clearLocked()
		return actionNone, ""
	}

	return actionNone, ""
}

// OfferCollaboration opens a collaboration-pending window, remembering the
// utterance that prompted the offer so a later "yes" dispatches it.
func (t *intentTracker) OfferCollaboration(utterance string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.collabPending = true
	t.collabSince = t.now()
	t.storedUtterance = utterance
}

func (t *intentTracker) TransferPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	return t.transferPending
}

func (t *intentTracker) CollabPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	return t.collabPending
}

func (t *intentTracker) expireLocked() {
	now := t.now()
	if t.transferPending && now.Sub(t.transferSince) > t.timeout {
		t.transferPending = false
	}
	if t.collabPending && now.Sub(t.collabSince) > t.timeout {
		t.collabPending = false
		t.storedUtterance = ""
	}
}

func (t *intentTracker) clearLocked() {
	t.transferPending = false
	t.collabPending = false
	t.storedUtterance = ""
}

// consents reports whether an utterance affirmatively accepts a pending
// offer: at least one consent word and no negation word.
func (t *intentTracker) consents(utterance string) bool {
	lowered := strings.ToLower(utterance)
	words := strings.FieldsFunc(lowered, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	consented := false
	for _, w := range words {
		if _, ok := t.negation[w]; ok {
			return false
		}
		if _, ok := t.consent[w]; ok {
			consented = true
		}
	}
	if consented {
		return true
	}
	// Multi-word consent phrases like "go ahead".
	for p := range t.consent {
		if strings.Contains(p, " ") && strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
