package domain

// Stats holds per-operation latency scores in milliseconds.
//
// A nil field means the probe never succeeded. Fields are serialized as
// null, never defaulted to zero.
//
// The *_score fields and the TTS engine fields are reserved for future
// aggregation. Nothing computes them; they stay nil unless a peer reports
// a value through gossip.
type Stats struct {
	AppleTTS      *int64 `json:"apple_tts"`
	BarkTTS       *int64 `json:"bark_tts"`
	DeepspeechTTS *int64 `json:"deepspeech_tts"`
	EspeakTTS     *int64 `json:"espeak_tts"`
	WatsonTTS     *int64 `json:"watson_tts"`
	TTSScore      *int64 `json:"tts_score"`

	Llama7B    *int64 `json:"llama_7b"`
	Llama13B   *int64 `json:"llama_13b"`
	Llama30B   *int64 `json:"llama_30b"`
	Llama65B   *int64 `json:"llama_65b"`
	LlamaScore *int64 `json:"llama_score"`

	NSTScore   *int64 `json:"nst_score"`
	SRGANScore *int64 `json:"srgan_score"`

	WhisperSTTTiny   *int64 `json:"whisper_stt_tiny"`
	WhisperSTTBase   *int64 `json:"whisper_stt_base"`
	WhisperSTTMedium *int64 `json:"whisper_stt_medium"`
	WhisperSTTLarge  *int64 `json:"whisper_stt_large"`
	WhisperSTTScore  *int64 `json:"whisper_stt_score"`

	WhisperVWAVTiny   *int64 `json:"whisper_vwav_tiny"`
	WhisperVWAVBase   *int64 `json:"whisper_vwav_base"`
	WhisperVWAVMedium *int64 `json:"whisper_vwav_medium"`
	WhisperVWAVLarge  *int64 `json:"whisper_vwav_large"`
	WhisperVWAVScore  *int64 `json:"whisper_vwav_score"`
}

// Millis wraps a measurement as a present score.
func Millis(v int64) *int64 { return &v }

// Clone copies every present score so the copy shares no pointers.
func (s Stats) Clone() Stats {
	c := s
	for _, p := range c.fields() {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return c
}

// Benchmarked reports whether at least one probe has been recorded.
func (s Stats) Benchmarked() bool {
	for _, p := range s.fields() {
		if *p != nil {
			return true
		}
	}
	return false
}

func (s *Stats) fields() []**int64 {
	return []**int64{
		&s.AppleTTS, &s.BarkTTS, &s.DeepspeechTTS, &s.EspeakTTS, &s.WatsonTTS, &s.TTSScore,
		&s.Llama7B, &s.Llama13B, &s.Llama30B, &s.Llama65B, &s.LlamaScore,
		&s.NSTScore, &s.SRGANScore,
		&s.WhisperSTTTiny, &s.WhisperSTTBase, &s.WhisperSTTMedium, &s.WhisperSTTLarge, &s.WhisperSTTScore,
		&s.WhisperVWAVTiny, &s.WhisperVWAVBase, &s.WhisperVWAVMedium, &s.WhisperVWAVLarge, &s.WhisperVWAVScore,
	}
}
