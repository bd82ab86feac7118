package session

// farPast начальное значение "времени с последней речи": hangover неактивен
const farPast = 1e9

// Action результат обработки одного блока сегментатором
type Action struct {
	// Forward блоки к отправке в порядке захвата
	Forward [][]byte
	// Commit после Forward нужно отправить сигнал коммита
	Commit bool
	// Started реплика началась на этом блоке (Forward содержит преролл)
	Started bool
	// Stopping началась отправка post-roll
	Stopping bool
	// Dropped реплика короче min_turn отброшена без коммита
	Dropped bool
	// SuppressedMs длительность блока, подавленного как тишина
	SuppressedMs float64
	// VoicedMs озвученная длительность реплики на момент коммита/сброса
	VoicedMs float64
}

// segmenter машина состояний Idle -> Sending -> PendingStop -> Idle.
// Время считается по длительности аудио, а не по часам,
// поэтому результат детерминирован при любом темпе подачи.
type segmenter struct {
	preroll *prerollRing

	sending        bool
	pendingStop    bool
	postRollLeftMs float64
	voicedMs       float64
	silenceMs      float64
	sinceVoiceMs   float64
	speechRun      int

	// passthrough: коммит по накопленной длительности
	maxTurnMs float64
	turnMs    float64
}

func newSegmenter(sampleRate int, maxTurnMs float64) *segmenter {
	return &segmenter{
		preroll:      newPrerollRing(sampleRate),
		sinceVoiceMs: farPast,
		maxTurnMs:    maxTurnMs,
	}
}

// step обрабатывает один PCM блок длительностью chunkMs.
// frames - классификация 20 мс кадров детектора, завершившихся в этом блоке.
func (s *segmenter) step(pcm []byte, chunkMs float64, frames []bool, p TimingProfile) Action {
	anySpeech := false
	for _, speech := range frames {
		if speech {
			anySpeech = true
			s.speechRun++
		} else {
			s.speechRun = 0
		}
	}

	if p.Passthrough {
		return s.passthrough(pcm, chunkMs)
	}

	// Для старта нужна серия речевых кадров, во время реплики - любой
	var hasVoice bool
	if s.sending {
		hasVoice = anySpeech
	} else {
		hasVoice = s.speechRun >= StartTriggerFrames
	}

	if hasVoice {
		s.sinceVoiceMs = 0
		s.silenceMs = 0
		if s.pendingStop {
			s.pendingStop = false
			s.postRollLeftMs = 0
		}
		s.voicedMs += chunkMs
	} else {
		s.sinceVoiceMs += chunkMs
		s.silenceMs += chunkMs
	}
	inHangover := s.sinceVoiceMs <= p.HangoverMs

	if !s.sending {
		s.preroll.push(pcm, chunkMs, p.PrerollMs)
	}

	var act Action

	if s.pendingStop {
		act.Forward = [][]byte{pcm}
		s.postRollLeftMs -= chunkMs
		if s.postRollLeftMs <= 0 {
			act.Commit = true
			act.VoicedMs = s.voicedMs
			s.reset()
		}
		return act
	}

	if !hasVoice && s.silenceMs >= p.StopSilenceMs && !inHangover {
		act.SuppressedMs = chunkMs
		if s.sending {
			act.VoicedMs = s.voicedMs
			switch {
			case s.voicedMs < p.MinTurnMs:
				act.Dropped = true
				s.reset()
			case p.PostRollMs > 0:
				act.Stopping = true
				s.pendingStop = true
				s.postRollLeftMs = p.PostRollMs
			default:
				act.Commit = true
				s.reset()
			}
		}
		return act
	}

	if hasVoice && !s.sending {
		s.sending = true
		act.Started = true
		// Текущий блок уже в конце преролла
		act.Forward = s.preroll.drain()
		return act
	}

	if s.sending {
		act.Forward = [][]byte{pcm}
	}
	return act
}

func (s *segmenter) passthrough(pcm []byte, chunkMs float64) Action {
	act := Action{Forward: [][]byte{pcm}}
	if !s.sending {
		s.sending = true
		act.Started = true
	}
	s.turnMs += chunkMs
	s.voicedMs += chunkMs
	if s.maxTurnMs > 0 && s.turnMs >= s.maxTurnMs {
		act.Commit = true
		act.VoicedMs = s.voicedMs
		s.reset()
	}
	return act
}

// finish завершает реплику при закрытии входного потока
func (s *segmenter) finish(p TimingProfile) Action {
	var act Action
	if !s.sending {
		return act
	}
	act.VoicedMs = s.voicedMs
	if s.pendingStop || p.Passthrough || s.voicedMs >= p.MinTurnMs {
		act.Commit = true
	} else {
		act.Dropped = true
	}
	s.reset()
	return act
}

func (s *segmenter) reset() {
	s.sending = false
	s.pendingStop = false
	s.postRollLeftMs = 0
	s.voicedMs = 0
	s.silenceMs = 0
	s.turnMs = 0
}

// idle true если реплика не идёт
func (s *segmenter) idle() bool { return !s.sending && !s.pendingStop }
