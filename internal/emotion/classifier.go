// Package emotion derives the agent's emotional label from its transcribed speech.
package emotion

import (
	"strings"
	"sync"

	"github.com/satriahrh/arunika/voice/domain/entities"
)

type rule struct {
	emotion  entities.Emotion
	keywords []string
}

// rules is evaluated top to bottom; the first category with a matching keyword wins.
var rules = [...]rule{
	{entities.EmotionSurprise, []string{"wow", "whoa", "no way", "unbelievable", "incredible", "amazing", "really?", "can't believe", "surprising", "oh my"}},
	{entities.EmotionFrustration, []string{"frustrat", "annoying", "annoyed", "irritat", "so unfair", "angry", "this is ridiculous", "fed up"}},
	{entities.EmotionBoredom, []string{"boring", "bored", "tedious", "whatever", "dull", "yawn", "same old"}},
	{entities.EmotionJoy, []string{"happy", "glad", "great", "wonderful", "fantastic", "excited", "delighted", "love", "haha", "awesome", "yay"}},
	{entities.EmotionEmpathy, []string{"understand", "sorry", "difficult", "i hear you", "that must be", "sounds hard", "here for you", "feel for you"}},
	{entities.EmotionCalm, []string{"relax", "calm", "breathe", "peace", "take your time", "no rush", "gently", "slowly"}},
	{entities.EmotionCuriosity, []string{"curious", "wonder", "interesting", "tell me more", "what if", "i'd like to know", "fascinating"}},
}

// Classify returns the first emotion whose keywords occur in text, or neutral.
func Classify(text string) entities.Emotion {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return entities.EmotionNeutral
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.emotion
			}
		}
	}
	return entities.EmotionNeutral
}

// Precedence returns the categories in the order they are tested.
func Precedence() []entities.Emotion {
	out := make([]entities.Emotion, len(rules))
	for i, r := range rules {
		out[i] = r.emotion
	}
	return out
}

// Tracker holds the current emotion. A neutral classification never
// overwrites an emotion that is already set; only Reset returns to neutral.
type Tracker struct {
	mu      sync.RWMutex
	current entities.Emotion
}

// NewTracker creates a tracker in the neutral state
func NewTracker() *Tracker {
	return &Tracker{current: entities.EmotionNeutral}
}

// Observe classifies the accumulated output text and reports whether the state changed.
func (t *Tracker) Observe(text string) (entities.Emotion, bool) {
	e := Classify(text)

	t.mu.Lock()
	defer t.mu.Unlock()
	if e == entities.EmotionNeutral || e == t.current {
		return t.current, false
	}
	t.current = e
	return e, true
}

// Current returns the current emotion
func (t *Tracker) Current() entities.Emotion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Reset returns the tracker to neutral and reports whether it changed
func (t *Tracker) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.current != entities.EmotionNeutral
	t.current = entities.EmotionNeutral
	return changed
}
