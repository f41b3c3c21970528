package entities

// Emotion is the discrete emotional label that drives the avatar's visual state
type Emotion string

const (
	EmotionJoy         Emotion = "joy"
	EmotionEmpathy     Emotion = "empathy"
	EmotionCalm        Emotion = "calm"
	EmotionCuriosity   Emotion = "curiosity"
	EmotionFrustration Emotion = "frustration"
	EmotionSurprise    Emotion = "surprise"
	EmotionBoredom     Emotion = "boredom"
	EmotionNeutral     Emotion = "neutral"
)

// Valid reports whether e is one of the known labels
func (e Emotion) Valid() bool {
	switch e {
	case EmotionJoy, EmotionEmpathy, EmotionCalm, EmotionCuriosity,
		EmotionFrustration, EmotionSurprise, EmotionBoredom, EmotionNeutral:
		return true
	}
	return false
}
