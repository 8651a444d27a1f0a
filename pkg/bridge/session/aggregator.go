package session

import (
	"strings"
	"sync"
	"time"
)

// aggregator merges STT fragments into utterances and hands complete ones to
// a debounced dispatch: a fresh fragment cancels the armed timer, so only
// the most recent complete utterance ever reaches the agent.
type aggregator struct {
	debounce      time.Duration
	closingWords  map[string]struct{}
	interrogative map[string]struct{}
	dispatch      func(utterance string)

	mu     sync.Mutex
	acc    string
	timer  *time.Timer
	seq    int
	closed bool
}

func newAggregator(debounce time.Duration, closingWords, interrogativeWords []string, dispatch func(string)) *aggregator {
	return &aggregator{
		debounce:      debounce,
		closingWords:  wordSet(closingWords),
		interrogative: wordSet(interrogativeWords),
		dispatch:      dispatch,
	}
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Append merges one STT fragment. When the accumulated text reads as a
// complete utterance it is cleared from the accumulator and the debounce
// timer is re-armed for it.
func (a *aggregator) Append(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	if a.acc == "" {
		a.acc = fragment
	} else {
		a.acc += " " + fragment
	}
	if !a.isComplete(a.acc) {
		return
	}
	utterance := a.acc
	a.acc = ""
	a.armLocked(utterance)
}

// DispatchNow bypasses the debounce, used for the initial greeting.
func (a *aggregator) DispatchNow(utterance string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cancelLocked()
	a.mu.Unlock()
	a.dispatch(utterance)
}

func (a *aggregator) armLocked(utterance string) {
	a.cancelLocked()
	a.seq++
	seq := a.seq
	a.timer = time.AfterFunc(a.debounce, func() {
		a.mu.Lock()
		stale := seq != a.seq
		a.mu.Unlock()
		if stale {
			return
		}
		a.dispatch(utterance)
	})
}

func (a *aggregator) cancelLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.seq++
}

// Cancel stops any armed dispatch and refuses further arming. Called on
// teardown; a fragment landing afterwards, such as the final buffer flush,
// must never start a new timer.
func (a *aggregator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.cancelLocked()
}

// Pending returns text accumulated but not yet judged complete.
func (a *aggregator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acc
}

// isComplete applies the utterance-completeness heuristic: terminal
// punctuation, length past twenty characters, a conversational closing
// word, or an interrogative opener with more than ten characters.
func (a *aggregator) isComplete(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	if len(text) > 20 {
		return true
	}

	words := strings.Fields(strings.ToLower(strings.Trim(text, ".,!? ")))
	if len(words) == 0 {
		return false
	}
	if _, ok := a.closingWords[words[len(words)-1]]; ok {
		return true
	}
	if _, ok := a.interrogative[words[0]]; ok && len(text) > 10 {
		return true
	}
	return false
}
